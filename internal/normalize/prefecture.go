package normalize

import "strings"

// Prefectures lists all 47 prefectures in JIS X 0401 order, so the slice
// index plus one is the JIS code.
var Prefectures = []string{
	"北海道", "青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県",
	"茨城県", "栃木県", "群馬県", "埼玉県", "千葉県", "東京都", "神奈川県",
	"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県",
	"静岡県", "愛知県", "三重県", "滋賀県", "京都府", "大阪府", "兵庫県",
	"奈良県", "和歌山県", "鳥取県", "島根県", "岡山県", "広島県", "山口県",
	"徳島県", "香川県", "愛媛県", "高知県", "福岡県", "佐賀県", "長崎県",
	"熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県",
}

var prefectureSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Prefectures))
	for _, p := range Prefectures {
		m[p] = struct{}{}
	}
	return m
}()

// IsPrefecture reports whether s is an exact prefecture name.
func IsPrefecture(s string) bool {
	_, ok := prefectureSet[strings.TrimSpace(s)]
	return ok
}

// SplitAddress splits a Japanese address into its prefecture and the rest.
// When no known prefecture prefixes the address, the prefecture is empty and
// the whole input is returned as the remainder.
func SplitAddress(address string) (prefecture, rest string) {
	s := strings.TrimSpace(address)
	for _, p := range Prefectures {
		if strings.HasPrefix(s, p) {
			return p, strings.TrimSpace(strings.TrimPrefix(s, p))
		}
	}
	return "", s
}
