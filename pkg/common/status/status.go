package status

import (
	"errors"
	"fmt"
)

// Code classifies a storage engine failure. The set is closed; every
// error surfaced by the engine carries exactly one of these.
type Code int

const (
	// CodeNotFound indicates the requested key is absent.
	CodeNotFound Code = iota + 1

	// CodeCorruption indicates on-disk or in-flight data failed
	// validation: CRC mismatch, impossible length, bad record type,
	// truncated header, bad footer magic.
	CodeCorruption

	// CodeNotSupported indicates a format feature the build cannot
	// handle, such as an unknown compression type.
	CodeNotSupported

	// CodeInvalidArgument indicates a caller contract violation, such
	// as out-of-order keys handed to a builder.
	CodeInvalidArgument

	// CodeIOError indicates a failure propagated from the environment.
	CodeIOError
)

var codeNames = map[Code]string{
	CodeNotFound:        "not found",
	CodeCorruption:      "corruption",
	CodeNotSupported:    "not supported",
	CodeInvalidArgument: "invalid argument",
	CodeIOError:         "io error",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the carrier for engine failures. It wraps an optional cause
// so callers can use errors.Is / errors.As through it.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an absent key with optional context.
func NotFound(msg string) error {
	return &Error{Code: CodeNotFound, Msg: msg}
}

// Corruption reports invalid stored data.
func Corruption(format string, args ...interface{}) error {
	return &Error{Code: CodeCorruption, Msg: fmt.Sprintf(format, args...)}
}

// NotSupported reports an unsupported format feature.
func NotSupported(format string, args ...interface{}) error {
	return &Error{Code: CodeNotSupported, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a caller contract violation.
func InvalidArgument(format string, args ...interface{}) error {
	return &Error{Code: CodeInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// IOError wraps an environment failure.
func IOError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeIOError, Err: err}
}

func is(err error, c Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == c
	}
	return false
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsCorruption reports whether err carries CodeCorruption.
func IsCorruption(err error) bool { return is(err, CodeCorruption) }

// IsNotSupported reports whether err carries CodeNotSupported.
func IsNotSupported(err error) bool { return is(err, CodeNotSupported) }

// IsInvalidArgument reports whether err carries CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return is(err, CodeInvalidArgument) }

// IsIOError reports whether err carries CodeIOError.
func IsIOError(err error) bool { return is(err, CodeIOError) }
