package relay

import (
	"context"
	"errors"

	"github.com/danmuck/cuebridge/internal/correlator"
	"github.com/danmuck/cuebridge/internal/transport"
)

const (
	OutcomeOK        = "ok"
	OutcomeRevoked   = "revoked"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeClosed    = "closed"
	OutcomeAbandoned = "abandoned"
	OutcomeOther     = "other"
)

// Outcome names a call's terminal error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, correlator.ErrAccessRevoked):
		return OutcomeRevoked
	case errors.Is(err, correlator.ErrSendFailed):
		return OutcomeFailed
	case errors.Is(err, correlator.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, transport.ErrTransport):
		return OutcomeTransport
	case errors.Is(err, correlator.ErrClosed):
		return OutcomeClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeAbandoned
	default:
		return OutcomeOther
	}
}
