package settlement

import (
	"context"
	"errors"
	"fmt"

	"remit/apps/remit/internal/confirmation"
	"remit/apps/remit/internal/conversion"
	"remit/apps/remit/internal/issuer"
	"remit/apps/remit/internal/model"
)

// Kind classifies a settlement failure and decides how it is resolved.
type Kind int

const (
	// KindValidation fails the transfer without retry.
	KindValidation Kind = iota
	// KindTransient is retried with backoff, then fails the transfer.
	KindTransient
	// KindAmbiguous leaves the transfer processing and flags it for reconciliation.
	KindAmbiguous
	// KindProgrammer is a malformed record; the transfer fails and the worker carries on.
	KindProgrammer
	// KindTerminal fails the transfer.
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindAmbiguous:
		return "ambiguous"
	case KindProgrammer:
		return "programmer"
	case KindTerminal:
		return "terminal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrUnsupportedCurrency = errors.New("unsupported recipient currency")
	ErrAmountTooSmall      = errors.New("amount rounds to zero token units")
	ErrMalformedTransfer   = errors.New("malformed transfer record")
	ErrConfirmationTimeout = errors.New("confirmation not observed before deadline")
	ErrPanic               = errors.New("settlement panicked")
)

// Error is a classified settlement failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err with its Kind for op. Already classified errors are returned as is.
func classify(op string, err error) error {
	var settlementErr *Error
	if errors.As(err, &settlementErr) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// classifyAfterSubmission classifies a failure that happened once a settling or intermediate
// transaction was submitted. An interruption there leaves the chain outcome unknown.
func classifyAfterSubmission(op string, err error) error {
	var settlementErr *Error
	if errors.As(err, &settlementErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindAmbiguous, Op: op, Err: err}
	}
	return classify(op, err)
}

// Classify maps an error to its Kind. Unknown errors are terminal.
func Classify(err error) Kind {
	var settlementErr *Error
	if errors.As(err, &settlementErr) {
		return settlementErr.Kind
	}

	switch {
	// An unconfirmed burn may wrap any confirmation error, so it is checked first.
	case errors.Is(err, issuer.ErrBurnUnconfirmed),
		errors.Is(err, issuer.ErrBroadcastUnknown),
		errors.Is(err, ErrConfirmationTimeout),
		errors.Is(err, confirmation.ErrStatusUnavailable):
		return KindAmbiguous
	case errors.Is(err, conversion.ErrRateNotFound),
		errors.Is(err, conversion.ErrInvalidRate),
		errors.Is(err, conversion.ErrNegativeAmount),
		errors.Is(err, issuer.ErrUnknownToken),
		errors.Is(err, issuer.ErrInvalidAmount),
		errors.Is(err, ErrUnsupportedCurrency),
		errors.Is(err, ErrAmountTooSmall):
		return KindValidation
	// Interruptions before anything reached the chain. Once a transaction is out,
	// classifyAfterSubmission makes them ambiguous.
	case errors.Is(err, conversion.ErrRateUnavailable),
		errors.Is(err, issuer.ErrChainUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrMalformedTransfer),
		errors.Is(err, ErrPanic):
		return KindProgrammer
	case errors.Is(err, confirmation.ErrReverted),
		errors.Is(err, issuer.ErrSubmission),
		errors.Is(err, model.ErrInvalidTransition):
		return KindTerminal
	}
	return KindTerminal
}
