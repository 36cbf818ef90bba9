package xfer

import (
	"errors"
	"fmt"
)

// Kind tags the category of an Error, mirroring the FileAccess error
// surface: Ok, InProgress, Again plus the fatal/retriable kinds below.
type Kind int

const (
	// KindOK is not used as an Error kind (success has no Error), it
	// exists so Kind's zero value prints sensibly.
	KindOK Kind = iota
	KindAgain
	KindInProgress
	KindSeeSystemErr
	KindLookupError
	KindNotOpen
	KindNoFile
	KindNoHost
	KindFatal
	KindStoreFailed
	KindLoginFailed
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindAgain:
		return "again"
	case KindInProgress:
		return "in-progress"
	case KindSeeSystemErr:
		return "system-error"
	case KindLookupError:
		return "lookup-error"
	case KindNotOpen:
		return "not-open"
	case KindNoFile:
		return "no-file"
	case KindNoHost:
		return "no-host"
	case KindFatal:
		return "fatal"
	case KindStoreFailed:
		return "store-failed"
	case KindLoginFailed:
		return "login-failed"
	case KindNotSupported:
		return "not-supported"
	default:
		return "ok"
	}
}

// Error is the tagged error value every FileAccess operation surfaces,
// per spec §7. It carries the offending path, when known, and wraps a
// lower-level cause so errors.As/errors.Is keep working against it.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, xfer.Again) style checks against bare Kind
// sentinels constructed with NewKind below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError builds a tagged Error.
func NewError(kind Kind, path, message string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Message: message, Cause: cause}
}

// Again is a shared sentinel for "no progress now, re-drive me" — it
// never wraps a cause and is safe to compare with errors.Is.
var Again = &Error{Kind: KindAgain, Message: "would block"}

// InProgress is a shared sentinel meaning the operation queued work but
// hasn't completed yet (distinct from Again: no re-drive is implied,
// the caller should wait for the next scheduler tick driven by I/O).
var InProgress = &Error{Kind: KindInProgress, Message: "in progress"}

// NotOpen is returned by Read/Write/Close when called before Open.
var NotOpen = &Error{Kind: KindNotOpen, Message: "not open"}

// NotSupported is returned for operations a driver doesn't implement
// (e.g. Rename on HTTP).
var NotSupported = &Error{Kind: KindNotSupported, Message: "operation not supported"}

// NoFile builds a "no such file" error for path.
func NoFile(path, message string) *Error {
	return NewError(KindNoFile, path, message, nil)
}

// NoHost builds a DNS/connect failure error.
func NoHost(message string, cause error) *Error {
	return NewError(KindNoHost, "", message, cause)
}

// Fatal builds a protocol-violation / unrecoverable session error.
func Fatal(message string, cause error) *Error {
	return NewError(KindFatal, "", message, cause)
}

// StoreFailed builds an upload failure whose remote write pointer is
// now unknown (§7: "for STOR without continue, StoreFailed is
// surfaced because the remote write pointer is unknown").
func StoreFailed(path, message string) *Error {
	return NewError(KindStoreFailed, path, message, nil)
}

// LoginFailed builds an authentication failure.
func LoginFailed(message string) *Error {
	return NewError(KindLoginFailed, "", message, nil)
}

// LookupError builds a DNS resolution failure.
func LookupError(message string, cause error) *Error {
	return NewError(KindLookupError, "", message, cause)
}

// SeeSystemErr wraps a raw errno/syscall-level failure.
func SeeSystemErr(code int, cause error) *Error {
	return NewError(KindSeeSystemErr, "", fmt.Sprintf("system error %d", code), cause)
}

// IsRetriable reports whether the error kind is one §7 says to recover
// from locally (reconnect + backoff + retry) rather than surface.
func IsRetriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindSeeSystemErr, KindAgain, KindInProgress:
		return true
	default:
		return false
	}
}

// Surfaces reports whether the error kind is one §7 says must be
// surfaced to the caller rather than retried transparently.
func Surfaces(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNoFile, KindNoHost, KindLoginFailed, KindFatal, KindNotSupported:
		return true
	default:
		return false
	}
}
