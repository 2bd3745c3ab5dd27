package observability

import "regexp"

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	// Cards before phones; a card number also matches the phone pattern.
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// Redact masks email addresses, card numbers and phone numbers in
// conversation text before it is logged.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}
