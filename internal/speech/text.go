package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	urlPattern          = regexp.MustCompile(`https?://\S+`)

	markupReplacer = strings.NewReplacer(
		"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
		"#", " ", "~", " ", "<", " ", ">", " ",
	)
)

// SpeakableText strips what a synthesizer would read out literally from an
// assistant reply: code, URLs, markdown markers, emoji and stray symbols.
// Link labels survive; whitespace collapses to single spaces.
func SpeakableText(reply string) string {
	text := strings.TrimSpace(reply)
	if text == "" {
		return ""
	}
	text = fencedCodePattern.ReplaceAllString(text, " ")
	text = inlineCodePattern.ReplaceAllString(text, " ")
	text = markdownLinkPattern.ReplaceAllString(text, "$1")
	text = urlPattern.ReplaceAllString(text, " ")
	text = markupReplacer.Replace(text)

	var b strings.Builder
	b.Grow(len(text))
	space := true
	gap := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range text {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			gap()
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case spokenPunctuation(r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			gap()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func spokenPunctuation(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()", r)
}
