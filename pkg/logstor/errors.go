package logstor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the terminal error conditions the engine can return, per
// the error handling design: Corrupt, NoSpace, Io, InvalidArgument.
type Kind int

const (
	// KindCorrupt covers signature mismatches, out-of-range superblock
	// pointers, and impossible reverse-map entries.
	KindCorrupt Kind = iota
	// KindNoSpace is returned when the allocator cannot find a free
	// segment; it indicates a cleaner bug or that the caller has
	// overflowed max_block_cnt.
	KindNoSpace
	// KindIo wraps a backing-device read/write failure.
	KindIo
	// KindInvalidArgument covers unaligned offsets/lengths and BAs at or
	// beyond max_block_cnt.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindCorrupt:
		return "corrupt"
	case KindNoSpace:
		return "no space"
	case KindIo:
		return "io"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned from every exported entry
// point. Callers should match on Kind with errors.Is against the sentinel
// Err* values below, or use errors.As to recover the *Error itself.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("logstor: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("logstor: %s: %s", e.Kind, e.Msg)
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCorrupt) etc. match purely on Kind, independent
// of Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for use with errors.Is.
var (
	ErrCorrupt         = &Error{Kind: KindCorrupt, Msg: "corrupt"}
	ErrNoSpace         = &Error{Kind: KindNoSpace, Msg: "no space"}
	ErrIo              = &Error{Kind: KindIo, Msg: "io"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
)

func corruptf(format string, args ...interface{}) error {
	return &Error{Kind: KindCorrupt, Msg: fmt.Sprintf(format, args...)}
}

func noSpacef(format string, args ...interface{}) error {
	return &Error{Kind: KindNoSpace, Msg: fmt.Sprintf(format, args...)}
}

func invalidArgf(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// wrapIo decorates a backing-device error with the operation that failed,
// preserving the original cause via errors.Wrap for logging.
func wrapIo(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: KindIo,
		Msg:  fmt.Sprintf(format, args...),
		Err:  errors.Wrap(err, "backing device"),
	}
}
