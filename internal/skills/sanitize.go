package skills

import (
	"errors"
	"regexp"
	"strings"
)

// ErrMemoryPoison is returned when content destined for long-term memory
// contains prompt injection patterns. Poisoned content is rejected outright
// rather than cleaned, because a stored injection fires on every future
// recall.
var ErrMemoryPoison = errors.New("content rejected: potential prompt injection detected")

// injectionPatterns are the curated prompt-injection phrases. Matched
// content is stripped from skill output and rejected from memory writes.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|prior|all)\s+instructions?`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)disregard\s+instructions?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)<\s*/?system`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`<<SYS>>`),
}

var (
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)
	// Dangerous URI schemes that could smuggle scripts through markdown.
	uriSchemeRe = regexp.MustCompile(`(?i)javascript:|data:`)
	// Control characters, keeping \t \n \r.
	ctrlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	// Runs of spaces/tabs within a line.
	excessSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
)

// StripSuspicious cleans external text before it re-enters model context:
// HTML tags, script-bearing URI schemes, control characters, and the
// injection phrases are all removed.
func StripSuspicious(text string) string {
	text = ctrlCharRe.ReplaceAllString(text, "")
	for _, re := range injectionPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = htmlTagRe.ReplaceAllString(text, "")
	text = uriSchemeRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// CleanForMemory prepares content for long-term storage. Unlike
// StripSuspicious it refuses poisoned content instead of cleaning it, and
// the injection check runs before HTML stripping so markers like <<SYS>>
// are still intact when inspected.
func CleanForMemory(content string) (string, error) {
	cleaned := ctrlCharRe.ReplaceAllString(content, "")

	for _, re := range injectionPatterns {
		if re.MatchString(cleaned) {
			return "", ErrMemoryPoison
		}
	}

	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	cleaned = excessSpaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned), nil
}
