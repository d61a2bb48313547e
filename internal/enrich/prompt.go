package enrich

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

// fieldLabels maps internal field names to the Japanese labels used in the
// AI prompt and expected back as answer keys.
var fieldLabels = map[string]string{
	model.FieldCorporateNumber:       "法人番号",
	model.FieldIndustry:              "業種",
	model.FieldContactPersonName:     "代表者名",
	model.FieldContactPersonPosition: "代表者役職",
	model.FieldPrefecture:            "都道府県",
	model.FieldCity:                  "市区町村",
	model.FieldCapital:               "資本金",
	model.FieldEmployeeCount:         "従業員数",
	model.FieldRevenue:               "売上高",
	model.FieldEstablishedYear:       "設立年",
	model.FieldWebsiteURL:            "公式サイトURL",
	model.FieldPhone:                 "電話番号",
	model.FieldEmail:                 "メールアドレス",
	model.FieldBusinessDescription:   "事業内容",
}

// fieldDescriptions guide the model toward the expected value shape.
var fieldDescriptions = map[string]string{
	model.FieldCorporateNumber: "13桁の数字",
	model.FieldCapital:         "日本円の金額(例: 6500万円)",
	model.FieldEmployeeCount:   "人数(数値)",
	model.FieldRevenue:         "日本円の金額",
	model.FieldEstablishedYear: "西暦4桁の年",
	model.FieldWebsiteURL:      "https:// で始まる公式サイトのURL",
	model.FieldPhone:           "市外局番を含む電話番号",
}

// labelFields is the reverse of fieldLabels for mapping answers back.
var labelFields = func() map[string]string {
	m := make(map[string]string, len(fieldLabels))
	for field, label := range fieldLabels {
		m[label] = field
	}
	return m
}()

// Extra answer keys that feed the context rather than company fields.
const (
	answerKeyNameVariants = "official_name_candidates"
	answerKeyEnglishName  = "english_name"
	answerKeyWebsite      = "website"
	answerKeyPerson       = "person"
	answerKeyRole         = "role"
)

const systemPrompt = `あなたは日本企業の情報を調査する専門アシスタントです。` +
	`公式サイト、法人番号公表サイト、信頼できる企業情報データベースのみを根拠とし、` +
	`確認できない項目は回答に含めないでください。回答はJSONオブジェクトのみで返してください。`

// Constraints pin the AI search to a company identity established by the
// registry lookup.
type Constraints struct {
	OfficialName    string
	Address         string
	CorporateNumber string
}

func (c Constraints) empty() bool {
	return c.OfficialName == "" && c.Address == "" && c.CorporateNumber == ""
}

// MissingFields returns candidate fields the company has no value for, in
// the canonical field order.
func MissingFields(company *model.Company) []string {
	var missing []string
	for _, field := range model.CandidateFields {
		if v, ok := company.FieldValue(field); ok && v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// BuildPrompt renders the system and user messages for one company.
func BuildPrompt(company *model.Company, missing []string, constraints Constraints) (string, string) {
	var b strings.Builder

	fmt.Fprintf(&b, "以下の日本企業について調査してください。\n\n")
	fmt.Fprintf(&b, "企業名: %s\n", company.Name)
	if company.Prefecture != "" {
		fmt.Fprintf(&b, "所在地(都道府県): %s\n", company.Prefecture)
	}
	if company.City != "" {
		fmt.Fprintf(&b, "所在地(市区町村): %s\n", company.City)
	}
	if company.CorporateNumber != "" {
		fmt.Fprintf(&b, "法人番号: %s\n", company.CorporateNumber)
	}

	if !constraints.empty() {
		b.WriteString("\nこの企業は以下の情報と一致することが確認済みです。別の企業と混同しないでください。\n")
		if constraints.OfficialName != "" {
			fmt.Fprintf(&b, "- 正式法人名: %s\n", constraints.OfficialName)
		}
		if constraints.Address != "" {
			fmt.Fprintf(&b, "- 所在地: %s\n", constraints.Address)
		}
		if constraints.CorporateNumber != "" {
			fmt.Fprintf(&b, "- 法人番号: %s\n", constraints.CorporateNumber)
		}
	}

	b.WriteString("\n調査手順: まず公式サイトを特定し、会社概要ページを確認してください。" +
		"見つからない場合は法人番号公表サイトや上場情報を参照してください。\n")

	b.WriteString("\n不明な項目は以下の通りです。判明したものだけをJSONのキーとして返してください。\n")
	for _, field := range missing {
		label := fieldLabels[field]
		if desc, ok := fieldDescriptions[field]; ok {
			fmt.Fprintf(&b, "- %s (%s)\n", label, desc)
		} else {
			fmt.Fprintf(&b, "- %s\n", label)
		}
	}

	fmt.Fprintf(&b, "\n加えて、以下のキーも可能な範囲で含めてください。\n")
	fmt.Fprintf(&b, "- %s: 正式名称の候補の配列(表記ゆれを含む)\n", answerKeyNameVariants)
	fmt.Fprintf(&b, "- %s: 英文社名\n", answerKeyEnglishName)
	fmt.Fprintf(&b, "- %s: 公式サイトURL\n", answerKeyWebsite)

	return systemPrompt, b.String()
}

// MapAnswer converts a parsed AI answer into internal field values plus
// the auxiliary hints. Unknown keys are ignored.
func MapAnswer(parsed map[string]any) (fields map[string]string, hints Hints) {
	fields = make(map[string]string)

	for key, raw := range parsed {
		switch key {
		case answerKeyNameVariants:
			hints.NameVariants = stringSlice(raw)
		case answerKeyEnglishName:
			hints.EnglishName = stringValue(raw)
		case answerKeyWebsite:
			hints.Website = stringValue(raw)
		case answerKeyPerson:
			hints.Person = stringValue(raw)
		case answerKeyRole:
			hints.Role = stringValue(raw)
		default:
			field, ok := labelFields[key]
			if !ok {
				// Some models answer with internal names directly.
				if model.IsCandidateField(key) {
					field = key
				} else {
					continue
				}
			}
			if v := stringValue(raw); v != "" {
				fields[field] = v
			}
		}
	}
	return fields, hints
}

// Hints are the non-field parts of an AI answer.
type Hints struct {
	NameVariants []string
	EnglishName  string
	Website      string
	Person       string
	Role         string
}

func stringValue(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case bool:
		return ""
	case nil:
		return ""
	default:
		return ""
	}
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		if s := stringValue(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range items {
		if s := stringValue(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sortedFields returns map keys in canonical field order for stable
// ingestion and logging.
func sortedFields(m map[string]string) []string {
	order := make(map[string]int, len(model.CandidateFields))
	for i, f := range model.CandidateFields {
		order[f] = i
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })
	return keys
}
