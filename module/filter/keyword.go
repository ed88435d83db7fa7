package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/relaywatch/relaywatch/model/nostr"
)

// KeywordStage passes events whose content contains any of the config's keywords as a whole
// word, ignoring case. A config without keywords passes every event.
type KeywordStage struct{}

func (KeywordStage) Name() string { return "keyword" }

func (KeywordStage) Match(config *nostr.SubscriptionConfig, ev *nostr.Event) bool {
	content := ""
	tested := false
	for _, keyword := range config.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if !tested {
			content = strings.ToLower(ev.Content)
			tested = true
		}
		if containsWord(content, keyword) {
			return true
		}
	}
	return !tested
}

// containsWord reports whether word occurs in s delimited on both sides by the start or end of
// s or by a rune that is neither a letter nor a digit.
func containsWord(s string, word string) bool {
	for offset := 0; offset <= len(s)-len(word); {
		i := strings.Index(s[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)
		if isBoundaryBefore(s, start) && isBoundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		offset = start + size
	}
	return false
}

func isBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func isBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
