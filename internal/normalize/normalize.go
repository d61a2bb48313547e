// Package normalize coerces raw candidate values into the canonical
// representations the review pipeline stores and compares.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	parenRe      = regexp.MustCompile(`[（(][^（）()]*[）)]`)
	reiwaRe      = regexp.MustCompile(`令和(\d+)`)
	heiseiRe     = regexp.MustCompile(`平成(\d+)`)
	westernRe    = regexp.MustCompile(`(19|20)\d{2}`)
	digitsRe     = regexp.MustCompile(`\d`)
	capitalRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)(億|万)?`)
)

// capitalRejectTokens mark capital values with no usable amount.
var capitalRejectTokens = []string{"未公開", "不明", "不詳", "なし", "N/A", "n/a", "-", "―"}

// rolePrefixes are stripped from the head of contact person names.
// Longer prefixes first so 代表取締役社長 wins over 代表取締役.
var rolePrefixes = []string{
	"代表取締役社長", "代表取締役", "取締役", "社長", "CEO", "COO", "CTO",
}

// positionSeparators cut a position string down to its first title.
var positionSeparators = []string{"／", "/", "・", "，", ","}

// Value normalizes a raw value for the given field. An empty return means
// the value is unusable and the candidate should be dropped.
func Value(field, value string) string {
	switch field {
	case model.FieldEstablishedYear:
		return EstablishedYear(value)
	case model.FieldCapital:
		return Capital(value)
	case model.FieldContactPersonName:
		return ContactPersonName(value)
	case model.FieldContactPersonPosition:
		return ContactPersonPosition(value)
	case model.FieldCorporateNumber, model.FieldEmployeeCount,
		model.FieldRevenue, model.FieldPhone:
		return DigitsOnly(value)
	default:
		return Text(value)
	}
}

// Text is the default normalization: full-width spaces become ASCII,
// whitespace collapses to single spaces, empty results are dropped.
func Text(value string) string {
	s := strings.ReplaceAll(value, "　", " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only ASCII digits.
func DigitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EstablishedYear accepts Japanese era notation (令和N, 平成N), a western
// 19xx/20xx year, or as a last resort the first four digits of the input.
func EstablishedYear(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return ""
	}

	if m := reiwaRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return strconv.Itoa(n + 2018)
		}
	}
	if m := heiseiRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return strconv.Itoa(n + 1988)
		}
	}
	if m := westernRe.FindString(s); m != "" {
		return m
	}

	digits := strings.Join(digitsRe.FindAllString(s, -1), "")
	if len(digits) >= 4 {
		return digits[:4]
	}
	return ""
}

// Capital converts Japanese capital notation into a plain yen amount.
// "6,500,000円" and "650万円" both become "6500000"; "1.5億" becomes
// "150000000". Placeholder tokens such as 未公開 yield an empty result.
func Capital(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return ""
	}
	for _, tok := range capitalRejectTokens {
		if strings.Contains(s, tok) {
			return ""
		}
	}

	s = strings.NewReplacer(",", "", "円", "", "　", "").Replace(s)
	s = whitespaceRe.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}

	var total float64
	matched := false
	for _, m := range capitalRe.FindAllStringSubmatch(s, -1) {
		if m[1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "億":
			n *= 1e8
		case "万":
			n *= 1e4
		}
		total += n
		matched = true
	}

	if !matched {
		digits := DigitsOnly(s)
		if digits == "" {
			return ""
		}
		return digits
	}
	if total < 0 {
		return ""
	}
	return strconv.FormatInt(int64(total), 10)
}

// ContactPersonName strips parenthesized notes and a leading role prefix,
// then collapses whitespace.
func ContactPersonName(value string) string {
	s := parenRe.ReplaceAllString(value, "")
	s = strings.ReplaceAll(s, "　", " ")
	s = strings.TrimSpace(s)
	for _, prefix := range rolePrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}

// ContactPersonPosition keeps only the first title: parenthesized notes are
// removed, then everything after the first separator or whitespace is cut.
func ContactPersonPosition(value string) string {
	s := parenRe.ReplaceAllString(value, "")
	s = strings.ReplaceAll(s, "　", " ")
	s = strings.TrimSpace(s)

	cut := len(s)
	for _, sep := range positionSeparators {
		if i := strings.Index(s, sep); i >= 0 && i < cut {
			cut = i
		}
	}
	s = strings.TrimSpace(s[:cut])

	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// Name normalizes a company name for matching: all whitespace removed,
// lower-cased.
func Name(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
