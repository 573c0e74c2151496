package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/disgoorg/disgo/rest"
	"github.com/robalyx/warden/internal/moderation/kind"
)

// JSON error codes returned by the Discord API.
const (
	codeUnknownMember = 10007
	codeUnknownUser   = 10013
	codeUnknownBan    = 10026
	codeCannotDM      = 50007
)

// hasCode reports whether err is a REST error carrying one of the codes.
func hasCode(err error, codes ...int) bool {
	var restErr *rest.Error
	if !errors.As(err, &restErr) {
		return false
	}

	for _, code := range codes {
		if int(restErr.Code) == code {
			return true
		}
	}

	return false
}

func statusCode(err error) int {
	var restErr *rest.Error
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}

	return 0
}

// classify wraps client errors that will not succeed on retry with
// kind.ErrRejected. Rate limits and server errors stay retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	status := statusCode(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: %w", op, kind.ErrRejected, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error, codes ...int) bool {
	return hasCode(err, codes...) || statusCode(err) == http.StatusNotFound
}
