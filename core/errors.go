package core

import "errors"

// ErrorCode is the closed enum of failure categories a caller can observe,
// per spec.md §6. Operational non-fatal conditions (budget violations,
// mailbox overflow, bounded rejections, validation violations) are reported
// as data through their own return values and telemetry counters, never
// through ErrorCode — only build-time, open-time and fatal failures surface
// here (spec.md §7).
type ErrorCode int

const (
	Success ErrorCode = iota
	OutOfMemory
	InvalidArgument
	InvalidFormat
	UnsupportedVersion
	ChecksumMismatch
	EOF
	IO
	NotFound
	Overflow
	ParseError
	UnresolvedRef
	OutOfIds
	BudgetViolation
	MailboxFull
	CancelRequested
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "Success"
	case OutOfMemory:
		return "OutOfMemory"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidFormat:
		return "InvalidFormat"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case EOF:
		return "EOF"
	case IO:
		return "IO"
	case NotFound:
		return "NotFound"
	case Overflow:
		return "Overflow"
	case ParseError:
		return "ParseError"
	case UnresolvedRef:
		return "UnresolvedRef"
	case OutOfIds:
		return "OutOfIds"
	case BudgetViolation:
		return "BudgetViolation"
	case MailboxFull:
		return "MailboxFull"
	case CancelRequested:
		return "CancelRequested"
	default:
		return "Unknown"
	}
}

// Error is a typed error carrying one ErrorCode plus free-form context. All
// build-time and open-time failures in this module are returned as *Error
// so callers can switch on Code without string matching.
type Error struct {
	Code    ErrorCode
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Context != "" {
			return e.Code.String() + ": " + e.Context + ": " + e.Err.Error()
		}
		return e.Code.String() + ": " + e.Err.Error()
	}
	if e.Context != "" {
		return e.Code.String() + ": " + e.Context
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error, wrapping cause (which may be nil).
func newErr(code ErrorCode, context string, cause error) *Error {
	return &Error{Code: code, Context: context, Err: cause}
}

// Is implements errors.Is matching by ErrorCode, so callers can write
// errors.Is(err, core.CodeErr(core.OutOfIds)) (or core.ErrOutOfIds).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// CodeErr returns a sentinel *Error for the given code, suitable for use
// with errors.Is(err, core.CodeErr(core.OutOfIds)).
func CodeErr(code ErrorCode) error { return &Error{Code: code} }
