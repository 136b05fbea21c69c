package transcribe

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage guesses the language of a transcript from its text.
func DetectLanguage(texts []string) language.Tag {
	joined := strings.TrimSpace(strings.Join(texts, " "))
	if joined == "" {
		return language.Und
	}
	iso := whatlanggo.DetectLang(joined).Iso6391()
	if iso == "" {
		return language.Und
	}
	tag, err := language.Parse(iso)
	if err != nil {
		return language.Und
	}
	return tag
}

// ParseLanguage accepts a BCP-47 tag, an ISO code or "auto"/"" for detection.
func ParseLanguage(raw string) (language.Tag, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "auto") {
		return language.Und, nil
	}
	return language.Parse(raw)
}

// cliLanguage renders a tag as the two-letter code whisper.cpp expects.
func cliLanguage(tag language.Tag) string {
	if tag == language.Und {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
