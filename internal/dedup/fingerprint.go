package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// nationalDigits is the length of the subscriber suffix compared across
// country-code and trunk-prefix variants of the same phone number.
const nationalDigits = 10

var folder = cases.Fold()

// NormalizePhone keeps the digits of raw and trims them to the national suffix.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range norm.NFKC.String(raw) {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > nationalDigits {
		digits = digits[len(digits)-nationalDigits:]
	}
	return digits
}

// NormalizeEmail applies NFKC, Unicode case folding and whitespace trimming.
func NormalizeEmail(raw string) string {
	return strings.TrimSpace(folder.String(norm.NFKC.String(raw)))
}

// Fingerprints returns the contact keys of a record. Empty fields yield none.
func Fingerprints(r ImportedRecord) []string {
	var out []string
	if phone := NormalizePhone(r.Phone); phone != "" {
		out = append(out, "phone:"+phone)
	}
	if email := NormalizeEmail(r.Email); email != "" {
		out = append(out, "email:"+email)
	}
	return out
}

func (r ImportedRecord) externalKey() string {
	if r.ExternalID == nil {
		return ""
	}
	return strings.TrimSpace(*r.ExternalID)
}
