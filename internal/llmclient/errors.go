package llmclient

import (
	"errors"
	"strings"

	"github.com/nexuscore/reactor/pkg/core"
	openai "github.com/sashabaranov/go-openai"
)

// classify maps a transport-level error onto the closed taxonomy. The
// second return value reports whether this was specifically a rate-limit
// response, so the retry loop can promote it to KindRateLimitExhausted
// once attempts run out rather than leaving it as a generic transport
// failure.
func classify(err error) (core.Kind, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return core.KindAuth, false
		case apiErr.HTTPStatusCode == 429:
			return core.KindTransport, true
		case apiErr.HTTPStatusCode == 400:
			if looksLikeContextLength(apiErr.Message) {
				return core.KindContextLength, false
			}
			return core.KindInvalidRequest, false
		case apiErr.HTTPStatusCode >= 500:
			return core.KindTransport, false
		default:
			if looksLikeContextLength(apiErr.Message) {
				return core.KindContextLength, false
			}
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 {
			return core.KindTransport, true
		}
		if reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0 {
			return core.KindTransport, false
		}
	}

	// No structured API error: a connection-level failure (refused, reset,
	// DNS, timeout) is always treated as transport and retried.
	return core.KindTransport, false
}

func looksLikeContextLength(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "maximum context length") ||
		strings.Contains(m, "context_length_exceeded") ||
		strings.Contains(m, "too many tokens")
}
