package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
)

// ErrorKind tags a transport failure so callers can branch without parsing provider text.
type ErrorKind int

// Transport error kinds.
const (
	KindUnknown ErrorKind = iota
	KindForbidden
	KindAlreadyParticipant
	KindNotFound
	KindBadRequest
	KindRateLimited
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindAlreadyParticipant:
		return "already_participant"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call that reaches the provider.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("telegram %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the tagged kind of err, or KindUnknown for untagged errors.
func KindOf(err error) ErrorKind {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap tags err with its classified kind. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var tErr *Error
	if errors.As(err, &tErr) {
		return err
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}

// Classify maps a provider error to a kind. Both SDKs in use surface the Bot API
// description in the error text, which is the only place some conditions appear.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var tooMany *bot.TooManyRequestsError
	desc := strings.ToUpper(err.Error())
	if strings.Contains(desc, "USER_ALREADY_PARTICIPANT") {
		return KindAlreadyParticipant
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden):
		return KindForbidden
	case errors.Is(err, bot.ErrorNotFound):
		return KindNotFound
	case errors.Is(err, bot.ErrorUnauthorized):
		return KindUnauthorized
	case errors.As(err, &tooMany):
		return KindRateLimited
	case errors.Is(err, bot.ErrorBadRequest):
		return KindBadRequest
	}

	switch {
	case strings.Contains(desc, "FORBIDDEN"):
		return KindForbidden
	case strings.Contains(desc, "TOO MANY REQUESTS"):
		return KindRateLimited
	case strings.Contains(desc, "NOT FOUND"):
		return KindNotFound
	case strings.Contains(desc, "UNAUTHORIZED"):
		return KindUnauthorized
	case strings.Contains(desc, "BAD REQUEST"):
		return KindBadRequest
	default:
		return KindUnknown
	}
}
