package subtitle

import "strings"

// ffmpeg parses a -vf/-filter_complex string twice: once as a filtergraph
// and once per filter option. Each pass consumes one level of backslashes.
const (
	optionSpecials = `\':`
	graphSpecials  = `\'[],;`
)

// EscapeFilterValue makes s safe to embed as a filter option value, e.g. the
// subtitles filename or drawtext text, when argv is passed without a shell.
func EscapeFilterValue(s string) string {
	return escapeChars(escapeChars(s, optionSpecials), graphSpecials)
}

// UnescapeFilterValue reverses EscapeFilterValue the way ffmpeg's parser does.
func UnescapeFilterValue(s string) string {
	return unescapeOnce(unescapeOnce(s))
}

func escapeChars(s, specials string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescapeOnce(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
