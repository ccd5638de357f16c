// Package fserr defines the error taxonomy shared by the storage engine, the
// replicated state machine and the RPC surface.
//
// Errors carry a Code (the category), a human-readable Message and optionally
// the Path they relate to. Protocol layers render errors with Format and
// recover them with Parse, so a client sees the same category the server
// produced.
package fserr

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Code is the category of a filesystem or replication error.
type Code int

const (
	// OK indicates success. It never appears inside a non-nil *Error.
	OK Code = iota

	// NotLeader indicates a write was refused because this node is not the
	// leader. The message carries the known leader identity.
	NotLeader

	// NoLeader indicates a write was refused and no leader is currently known.
	NoLeader

	// NotFound indicates the path has no entry.
	NotFound

	// AlreadyExists indicates the target exists where idempotence is not
	// asserted. Reserved: the idempotent mutations never raise it.
	AlreadyExists

	// NotDirectory indicates the operation expected a directory.
	NotDirectory

	// NotEmpty indicates a directory deletion against a populated directory.
	NotEmpty

	// InvalidPath indicates the path validator rejected the path.
	InvalidPath

	// TooLarge indicates a read above the size cap or a payload above the
	// log entry limit.
	TooLarge

	// IO indicates an underlying kernel or filesystem failure.
	IO

	// Serialization indicates a codec failure on a log entry or wire frame.
	Serialization

	// Network indicates a transport-level failure.
	Network

	// Timeout indicates a bounded wait elapsed without progress.
	Timeout

	// Raft indicates a consensus-layer failure surfaced through a completion.
	Raft
)

var codeNames = map[Code]string{
	OK:            "OK",
	NotLeader:     "NOT_LEADER",
	NoLeader:      "NO_LEADER",
	NotFound:      "NOT_FOUND",
	AlreadyExists: "ALREADY_EXISTS",
	NotDirectory:  "NOT_DIRECTORY",
	NotEmpty:      "NOT_EMPTY",
	InvalidPath:   "INVALID_PATH",
	TooLarge:      "TOO_LARGE",
	IO:            "IO_ERROR",
	Serialization: "SERIALIZATION_ERROR",
	Network:       "NETWORK_ERROR",
	Timeout:       "TIMEOUT",
	Raft:          "RAFT_ERROR",
}

var namesToCode = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Error is a categorized failure from any layer of the system.
type Error struct {
	// Code is the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path is the logical path the error relates to, if any.
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of the error annotated with a logical path.
func (e *Error) WithPath(path string) *Error {
	clone := *e
	clone.Path = path
	return &clone
}

// CodeOf extracts the category of err. A nil error is OK; an error that is
// not an *Error maps to IO.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return IO
}

// Is lets errors.Is match two taxonomy errors by code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// FromOS translates a filesystem error from the kernel into the taxonomy.
// The caller decides whether ENOENT is an error at all; this function maps
// it to NotFound.
func FromOS(err error, path string) *Error {
	if err == nil {
		return nil
	}

	var code Code
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = NotFound
	case errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EEXIST):
		// rmdir reports a populated directory as ENOTEMPTY on Linux and
		// EEXIST on some other kernels.
		code = NotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		code = NotDirectory
	case errors.Is(err, syscall.EFBIG):
		code = TooLarge
	default:
		code = IO
	}

	return &Error{Code: code, Message: err.Error(), Path: path}
}

// Format renders err for the wire as "CODE: message". A nil error renders
// as the empty string.
func Format(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return IO.String() + ": " + err.Error()
	}
	return e.Code.String() + ": " + e.Error()
}

// Parse recovers an Error from its wire rendering. Strings without a known
// "CODE: " prefix come back as IO errors carrying the whole string.
func Parse(s string) *Error {
	if s == "" {
		return nil
	}
	if name, msg, ok := strings.Cut(s, ": "); ok {
		if code, known := namesToCode[name]; known {
			return &Error{Code: code, Message: msg}
		}
	}
	return &Error{Code: IO, Message: s}
}
