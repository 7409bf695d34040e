package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// The agent reports results as free text; its phrasing is not stable. These
// parsers are deliberately tolerant: they scan for recognizable shapes and
// return empty values rather than guessing.

var (
	fullSHAPattern  = regexp.MustCompile(`\b[0-9a-f]{40}\b`)
	shortSHAPattern = regexp.MustCompile(`(?i)\bcommit(?:ted)?\s*(?:hash|sha|id)?[:\s]+([0-9a-f]{7,40})\b`)
	prURLPattern    = regexp.MustCompile(`https?://\S+?/(?:pull|pull-requests|merge_requests)/(\d+)\b`)
	prRefPattern    = regexp.MustCompile(`(?i)\b(?:PR|pull request|merge request)\s*#(\d+)`)
)

// ParseCommitHash extracts a commit SHA from agent output. A full 40-char
// SHA wins; otherwise an abbreviated one following a "commit ..." mention is
// accepted. Empty when nothing plausible appears.
func ParseCommitHash(text string) string {
	if m := fullSHAPattern.FindString(text); m != "" {
		return m
	}
	if m := shortSHAPattern.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// ParsePR extracts a PR URL and number from agent output. The URL form is
// preferred because it carries both; a bare "#N" reference yields the number
// alone.
func ParsePR(text string) (url string, number int) {
	if m := prURLPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return m[0], n
		}
	}
	if m := prRefPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return "", n
		}
	}
	return "", 0
}
