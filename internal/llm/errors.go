package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrFatalAPI marks provider errors that no retry can fix: bad or missing
	// credentials, exhausted billing or quota. A run stops on the first one.
	ErrFatalAPI = errors.New("fatal API error")

	// ErrRateLimited marks provider throttling. It is retryable.
	ErrRateLimited = errors.New("rate limited")
)

// Status codes only count in the forms providers report them, such as
// langchaingo's "API returned unexpected status code: 429".
var fatalPatterns = []string{
	"credit balance",
	"credit_balance",
	"quota exceeded",
	"insufficient_quota",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"invalid_api_key",
	"authentication",
	"unauthorized",
	"permission denied",
	"status code: 401",
	"status code: 403",
	"http 401",
	"http 403",
}

var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"overloaded",
	"status code: 429",
	"status code: 529",
	"http 429",
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type errorClass int

const (
	classOther errorClass = iota
	classFatal
	classRateLimited
)

// classify sorts a provider error. Typed errors decide first; message
// patterns are checked fatal before rate limit, because exhausted quota is
// often reported with a 429 status.
func classify(err error) errorClass {
	if err == nil {
		return classOther
	}

	var (
		denied    *types.AccessDeniedException
		throttled *types.ThrottlingException
		quota     *types.ServiceQuotaExceededException
	)
	switch {
	case errors.As(err, &denied):
		return classFatal
	case errors.As(err, &throttled), errors.As(err, &quota):
		return classRateLimited
	case llms.IsAuthenticationError(err), llms.IsQuotaExceededError(err):
		return classFatal
	case llms.IsRateLimitError(err):
		return classRateLimited
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, fatalPatterns):
		return classFatal
	case containsAny(msg, rateLimitPatterns):
		return classRateLimited
	default:
		return classOther
	}
}

// isFatalAPIError reports whether err is a provider failure that retrying
// cannot resolve.
func isFatalAPIError(err error) bool {
	return classify(err) == classFatal
}

// wrapFatalError tags err with ErrFatalAPI or ErrRateLimited when it
// matches. Any other error is returned unchanged.
func wrapFatalError(err error) error {
	switch classify(err) {
	case classFatal:
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	case classRateLimited:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return err
	}
}
