package apperror

import (
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Kind groups codes by how the pipeline reacts to them.
type Kind string

const (
	// KindRejected ends one opportunity; the next cycle starts clean.
	KindRejected Kind = "rejected"
	// KindTransient is an upstream hiccup that a later attempt may clear.
	KindTransient Kind = "transient"
	// KindOperator needs a human: a plan that should have simulated did not,
	// or the submitting account lost track of its nonce.
	KindOperator Kind = "operator"
	// KindInternal is a bug or misconfiguration.
	KindInternal Kind = "internal"
)

// AppError carries a Code through the pipeline so each stage can decide
// whether to drop, retry, or alert.
type AppError struct {
	Code    Code      `json:"code"`
	Message string    `json:"message"`
	Context string    `json:"context,omitempty"`
	At      time.Time `json:"at"`
	cause   error
	stack   []uintptr
}

func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Context != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Context)
		sb.WriteString(")")
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *AppError) Unwrap() error { return e.cause }

// Is matches any *AppError with the same code, so errors.Is(err,
// New(CodeStaleData)) works through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// Kind classifies e.Code.
func (e *AppError) Kind() Kind { return kindOf(e.Code) }

// LogValue renders the error as a group so handlers index code and kind.
// The stack is only attached to internal errors.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind())),
		slog.String("msg", e.Message),
	}
	if e.Context != "" {
		attrs = append(attrs, slog.String("context", e.Context))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	if e.Kind() == KindInternal && len(e.stack) > 0 {
		attrs = append(attrs, slog.String("stack", e.Stack()))
	}
	return slog.GroupValue(attrs...)
}

// Stack formats the frames captured by New, skipping the runtime.
func (e *AppError) Stack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			sb.WriteString("\n\t")
			sb.WriteString(f.Function)
			sb.WriteString(" ")
			sb.WriteString(f.File)
			sb.WriteString(":")
			sb.WriteString(strconv.Itoa(f.Line))
		}
		if !more {
			return sb.String()
		}
	}
}

// Option configures New.
type Option func(*AppError)

func WithMessage(message string) Option {
	return func(e *AppError) { e.Message = message }
}

// WithContext names what failed, e.g. a pool address or relay name.
func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

// New creates an error for code. The message defaults to the registered
// text for code, or the code itself.
func New(code Code, opts ...Option) *AppError {
	var pcs [24]uintptr
	n := runtime.Callers(2, pcs[:])

	e := &AppError{
		Code:    code,
		Message: messages[code],
		At:      time.Now(),
		stack:   pcs[:n],
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Message == "" {
		e.Message = string(code)
	}
	return e
}

// Wrap gives err a code unless it already has one, in which case the
// existing error is returned with context filled in if it was empty.
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Context == "" {
			ae.Context = context
		}
		return ae
	}
	return New(code, WithContext(context), WithCause(err))
}

// GetCode returns the first code in err's chain, or CodeUnknownError.
func GetCode(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknownError
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &AppError{Code: code})
}

// KindOf classifies err; errors without a code are internal.
func KindOf(err error) Kind {
	return kindOf(GetCode(err))
}

// IsRetryable reports whether the pipeline may retry automatically. Only
// stale data (next cycle) and submission timeouts (fee bump, fallback)
// qualify.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeStaleData, CodeSubmissionTimeout:
		return true
	}
	return false
}

// MustSurface reports whether err has to reach the operator channel even
// though the process keeps running.
func MustSurface(err error) bool {
	return KindOf(err) == KindOperator
}

func kindOf(code Code) Kind {
	switch code {
	case CodeSimulationFailure, CodeSequenceConflict:
		return KindOperator
	case CodeStaleData, CodeInsufficientLiquidity, CodeNoCapitalSource,
		CodeBelowProfitFloor, CodeLowConfidence, CodeInvalidPath,
		CodeProtectionViolation, CodeTransactionReverted:
		return KindRejected
	case CodeSubmissionTimeout, CodeServiceTimeout, CodeRateLimitExceeded,
		CodeRelayError, CodeCircuitOpen, CodeLockNotAcquired,
		CodeEthereumConnectionFailed, CodeEthereumRPCError,
		CodeWebSocketConnectionError, CodeWebSocketClosed,
		CodeOrderbookFetchFailed, CodeMulticallFailed, CodeRedisError:
		return KindTransient
	}
	return KindInternal
}
