// Package variables reconciles Census variable listings across years into one
// longitudinal table and persists it.
package variables

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HierarchySeparator joins label levels in Census listings ("Estimate!!Total:").
const HierarchySeparator = "!!"

var (
	colonRun = regexp.MustCompile(`\s*(:\s*)+`)
	spaceRun = regexp.MustCompile(`\s+`)
	estimate = regexp.MustCompile(`^[A-Z]+\d+[A-Z]*_\d+E$`)
)

// IsEstimate reports whether name is a survey estimate variable. Margins of
// error (M), annotations (EA, MA) and geography fields are rejected.
func IsEstimate(name string) bool { return estimate.MatchString(name) }

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CleanLabel normalizes a variable label. CleanLabel(CleanLabel(s)) == CleanLabel(s).
func CleanLabel(s string) string {
	s = strings.ReplaceAll(s, HierarchySeparator, ": ")
	s = stripAccents(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ':', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	s = norm.NFC.String(b.String())

	s = fixHyphens(s)
	s = colonRun.ReplaceAllString(s, ": ")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// fixHyphens collapses hyphen runs and drops hyphens that do not sit between
// two alphanumerics.
func fixHyphens(s string) string {
	if !strings.Contains(s, "-") {
		return s
	}
	var collapsed []rune
	for _, r := range s {
		if r == '-' && len(collapsed) > 0 && collapsed[len(collapsed)-1] == '-' {
			continue
		}
		collapsed = append(collapsed, r)
	}
	out := make([]rune, 0, len(collapsed))
	for i, r := range collapsed {
		if r == '-' {
			if i == 0 || i == len(collapsed)-1 || !alnum(collapsed[i-1]) || !alnum(collapsed[i+1]) {
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}

func alnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// Alias derives the short display name of a cleaned label.
func Alias(label string) string {
	a := strings.TrimPrefix(label, "Estimate: ")
	a = strings.TrimPrefix(a, "Estimate:")
	a = strings.TrimSpace(a)
	if r := []rune(a); len(r) > MaxAliasLen {
		a = strings.TrimSpace(string(r[:MaxAliasLen]))
	}
	return a
}

// MaxAliasLen is the geodatabase field alias limit.
const MaxAliasLen = 255
