package retry

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Class buckets a failure by how the executor should respond to it.
type Class string

const (
	ClassRetryableAPI     Class = "retryable-api"
	ClassRetryableNetwork Class = "retryable-network"
	ClassNonRetryable     Class = "non-retryable"
	ClassUnknown          Class = "unknown"
)

// Retryable reports whether the executor may attempt the call again.
// Unknown is retryable on purpose: a wasted retry is cheaper than an
// abandoned run.
func (c Class) Retryable() bool {
	return c != ClassNonRetryable
}

// apiHints match provider-side throttling/overload responses. Checked first:
// an overloaded API frequently mentions timeouts too, and the API bucket is
// the more specific diagnosis.
var apiHints = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"overloaded",
	"overloaded_error",
	"server error",
	"internal server error",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"429",
	"500",
	"502",
	"503",
	"504",
	"529",
}

var networkHints = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"timed out",
	"timeout",
	"etimedout",
	"econnreset",
	"econnrefused",
	"dns",
	"no such host",
	"name resolution",
	"network is unreachable",
	"socket hang up",
}

var nonRetryableHints = []string{
	"no such file or directory",
	"enoent",
	"file not found",
	"executable file not found",
	"command not found",
	"exited with code",
	"exit status",
	"non-zero exit",
	"syntax error",
	"syntaxerror",
	"parse error",
}

// Classify maps a failure's text to a retry class. Hint lists are checked in
// order: API throttling first, then transport failures, then definite local
// failures; everything else is unknown.
func Classify(errText string) Class {
	text := strings.ToLower(strings.TrimSpace(errText))
	if text == "" {
		return ClassUnknown
	}
	for _, hint := range apiHints {
		if strings.Contains(text, hint) {
			return ClassRetryableAPI
		}
	}
	for _, hint := range networkHints {
		if strings.Contains(text, hint) {
			return ClassRetryableNetwork
		}
	}
	for _, hint := range nonRetryableHints {
		if strings.Contains(text, hint) {
			return ClassNonRetryable
		}
	}
	return ClassUnknown
}

// ClassifyError is Classify over err.Error(); nil classifies as unknown.
func ClassifyError(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	return Classify(err.Error())
}

// Signature returns a stable "subject|class|hash" identity for a failure,
// used by fix-history bookkeeping to spot the same error recurring. The hash
// covers the normalized error text so signatures survive timestamps moving.
func Signature(subject string, errText string) string {
	class := Classify(errText)
	h := blake3.New()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(errText))))
	sum := h.Sum(nil)
	return strings.TrimSpace(subject) + "|" + string(class) + "|" + hex.EncodeToString(sum[:8])
}
