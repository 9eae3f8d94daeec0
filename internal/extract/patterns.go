package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/validate"
)

// matcher is one entry of a field's pattern table. Tables are ordered by
// priority and the first matcher that yields a usable candidate decides.
type matcher struct {
	re    *regexp.Regexp
	value int
	// currency lists submatch indexes holding a currency printed next to an amount.
	currency []int
	// whole rejects values cut out of a longer digit run.
	whole bool
}

const (
	currencyToken = `(EUR|USD|GBP|CHF|JPY|SEK|NOK|DKK|PLN|CZK|€|\$|£)`
	numberToken   = `(-?\d{1,3}(?:[.,' \x{00A0}]\d{3})+(?:[.,]\d{1,2})?|-?\d+(?:[.,]\d{1,2})?)`
	ibanToken     = `([A-Z]{2}\d{2}(?:[ ]?[A-Z0-9]{4}){2,7}(?:[ ]?[A-Z0-9]{1,3})?)`
	idToken       = `([A-Z0-9][A-Z0-9\-/]*)`
	dateToken     = `(\d{1,2}\.\d{1,2}\.\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`
)

var invoiceNumberPatterns = []matcher{
	{re: regexp.MustCompile(`(?i)\bRechnungs?\s*-?\s*(?:nummer|nr)\b\.?\s*[:#]?\s*` + idToken), value: 1},
	{re: regexp.MustCompile(`(?i)\bInvoice\s*(?:Number|No|Nr)\b\.?\s*[:#]?\s*` + idToken), value: 1},
	{re: regexp.MustCompile(`(?i)\bInvoice\s*#\s*` + idToken), value: 1},
	{re: regexp.MustCompile(`\bRE\s*[:#-]?\s*(\d+)`), value: 1},
}

var invoiceDatePatterns = []matcher{
	{re: regexp.MustCompile(`(?i)\b(?:Rechnungsdatum|Invoice\s*Date)\s*[:#]?\s*` + dateToken), value: 1},
	{re: regexp.MustCompile(`(?i)\b(?:Datum|Date)\s*[:#]?\s*` + dateToken), value: 1},
	{re: regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`), value: 1},
	{re: regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), value: 1},
}

var amountPatterns = []matcher{
	{
		re:       regexp.MustCompile(`(?i)\b(?:Gesamtbetrag|Rechnungsbetrag|Zahlbetrag|Endbetrag|Grand\s*Total|Amount\s*Due|Total\s*Due|Total\s*Amount)\s*[:=]?\s*(?:` + currencyToken + `\s*)?` + numberToken + `(?:\s*` + currencyToken + `)?`),
		value:    2,
		currency: []int{1, 3},
		whole:    true,
	},
	{
		re:       regexp.MustCompile(`(?i)\b(?:Insgesamt|Total|Summe|Betrag|Amount)\s*[:=]?\s*(?:` + currencyToken + `\s*)?` + numberToken + `(?:\s*` + currencyToken + `)?`),
		value:    2,
		currency: []int{1, 3},
		whole:    true,
	},
	{
		re:       regexp.MustCompile(numberToken + `\s*` + currencyToken),
		value:    1,
		currency: []int{2},
		whole:    true,
	},
	{
		re:       regexp.MustCompile(currencyToken + `\s*` + numberToken),
		value:    2,
		currency: []int{1},
		whole:    true,
	},
}

var currencyPatterns = []matcher{
	{re: regexp.MustCompile(`(?i)\b(?:Currency|Währung|Waehrung)\s*[:=]?\s*([A-Z]{3})\b`), value: 1},
	{re: regexp.MustCompile(`\b(EUR|USD|GBP|CHF)\b`), value: 1},
	{re: regexp.MustCompile(`(€|£)`), value: 1},
}

var ibanPatterns = []matcher{
	{re: regexp.MustCompile(`(?i)\bIBAN\s*[:#]?\s*` + ibanToken), value: 1},
	{re: regexp.MustCompile(`\b` + ibanToken + `\b`), value: 1},
}

var bicPatterns = []matcher{
	{re: regexp.MustCompile(`(?i)\b(?:BIC|SWIFT)(?:[ -]?Code)?\s*[:#]?\s*([A-Z]{6}[A-Z0-9]{2}(?:[A-Z0-9]{3})?)\b`), value: 1},
}

// candidate is one normalized match; currency is set for amounts printed with one.
type candidate struct {
	value    string
	currency string
}

// normalizer turns a raw submatch into a field value or rejects it.
type normalizer func(raw string) (string, error)

// firstGroup runs the matchers in priority order and returns the normalized
// candidates of the first matcher that produced any.
func firstGroup(text string, matchers []matcher, normalize normalizer) []candidate {
	for _, m := range matchers {
		var group []candidate
		for _, sub := range m.findAll(text) {
			raw := sub[m.value]
			if raw == "" {
				continue
			}
			v, err := normalize(raw)
			if err != nil {
				continue
			}
			group = append(group, candidate{value: v, currency: adjacentCurrency(sub, m.currency)})
		}
		if len(group) > 0 {
			return group
		}
	}
	return nil
}

// findAll returns the submatches of every match. For whole matchers a match
// whose value borders more digits is dropped and the search resumes one rune
// after its start, so "2024 100.00 EUR" still yields 100.00.
func (m matcher) findAll(text string) [][]string {
	if !m.whole {
		return m.re.FindAllStringSubmatch(text, -1)
	}
	var out [][]string
	for pos := 0; pos < len(text); {
		loc := m.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := loc[2*m.value], loc[2*m.value+1]
		if start >= 0 && splitsNumber(text, pos+start, pos+end) {
			_, n := utf8.DecodeRuneInString(text[pos+loc[0]:])
			pos += loc[0] + n
			continue
		}
		sub := make([]string, len(loc)/2)
		for i := range sub {
			if loc[2*i] >= 0 {
				sub[i] = text[pos+loc[2*i] : pos+loc[2*i+1]]
			}
		}
		out = append(out, sub)
		if loc[1] == loc[0] {
			_, n := utf8.DecodeRuneInString(text[pos+loc[1]:])
			pos += max(n, 1)
		}
		pos += loc[1]
	}
	return out
}

// splitsNumber reports whether text[start:end] continues into a digit or a
// punctuation-separated digit group on either side.
func splitsNumber(text string, start, end int) bool {
	if r, n := utf8.DecodeLastRuneInString(text[:start]); n > 0 {
		if unicode.IsDigit(r) {
			return true
		}
		if p, _ := utf8.DecodeLastRuneInString(text[:start-n]); isGroupPunct(r) && unicode.IsDigit(p) {
			return true
		}
	}
	if r, n := utf8.DecodeRuneInString(text[end:]); n > 0 {
		if unicode.IsDigit(r) {
			return true
		}
		if q, _ := utf8.DecodeRuneInString(text[end+n:]); isGroupPunct(r) && unicode.IsDigit(q) {
			return true
		}
	}
	return false
}

func isGroupPunct(r rune) bool {
	return r == '.' || r == ',' || r == '\''
}

func adjacentCurrency(sub []string, indexes []int) string {
	for _, idx := range indexes {
		if idx >= len(sub) || sub[idx] == "" {
			continue
		}
		if code, err := validate.NormalizeCurrency(sub[idx]); err == nil {
			return code
		}
	}
	return ""
}

// resolve collapses a candidate group to a single value. Disagreeing
// candidates make the field ambiguous: it is left missing and an error is returned.
func resolve(field models.FieldName, values []string) (string, string) {
	distinct := distinctValues(values)
	switch len(distinct) {
	case 0:
		return "", ""
	case 1:
		return distinct[0], ""
	default:
		return "", fmt.Sprintf("ambiguous %s: %s", field, strings.Join(distinct, ", "))
	}
}

func distinctValues(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func normalizeInvoiceNumber(raw string) (string, error) {
	v := strings.TrimRight(strings.TrimSpace(raw), "-/")
	if !strings.ContainsFunc(v, unicode.IsDigit) {
		return "", fmt.Errorf("invoice number without digits: %q", raw)
	}
	return strings.ToUpper(v), nil
}

func normalizeIdentity(raw string) (string, error) {
	return strings.ToUpper(strings.TrimSpace(raw)), nil
}

// normalizeLabeledIBAN keeps a labeled candidate even when its checksum fails,
// so validation can flag it, but prefers the longest valid leading part.
func normalizeLabeledIBAN(raw string) (string, error) {
	if v, ok := longestValidIBAN(raw); ok {
		return v, nil
	}
	return validate.NormalizeIBAN(raw), nil
}

// normalizeBareIBAN accepts an unlabeled candidate only when it is a valid IBAN.
func normalizeBareIBAN(raw string) (string, error) {
	if v, ok := longestValidIBAN(raw); ok {
		return v, nil
	}
	return "", fmt.Errorf("not an iban: %q", raw)
}

// longestValidIBAN drops trailing space-separated groups until the rest
// validates; printed IBANs are often followed by unrelated digit groups.
func longestValidIBAN(raw string) (string, bool) {
	tokens := strings.Fields(strings.ToUpper(raw))
	for n := len(tokens); n >= 1; n-- {
		v := strings.Join(tokens[:n], "")
		if validate.IBAN(v) == nil {
			return v, true
		}
	}
	return "", false
}
