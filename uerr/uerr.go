// Package uerr defines the structured status type shared across the
// worker core: resource, interface, dispatch, and wakeup packages all
// report failures as *Status rather than bare errors so callers can
// branch on Code without string matching.
package uerr

import "fmt"

// Code enumerates the error categories from the worker's error design.
type Code int

const (
	// OK is not itself an error; Status is never constructed with it.
	OK Code = iota
	// InvalidParam marks a caller-supplied value that fails validation.
	InvalidParam
	// NoMemory marks an allocation failure.
	NoMemory
	// IOError marks a transport or OS-level I/O failure.
	IOError
	// Unsupported marks a requested operation the resource cannot perform.
	Unsupported
	// NoDevice marks an absence of a matching transport resource.
	NoDevice
	// NoResource marks temporary back-pressure from a transport. The
	// worker core has no retrying send path of its own: a transport send
	// returns it to the caller as-is.
	NoResource
	// Busy marks events pending before arm; converted to OK by Wait.
	Busy
	// InProgress is an async-continuation sentinel, not a true error.
	InProgress
)

var codeNames = [...]string{
	OK:            "ok",
	InvalidParam:  "invalid parameter",
	NoMemory:      "no memory",
	IOError:       "io error",
	Unsupported:   "unsupported",
	NoDevice:      "no device",
	NoResource:    "no resource",
	Busy:          "busy",
	InProgress:    "in progress",
}

// String returns the worker's status-to-string rendering of code.
func String(code Code) string {
	if int(code) < 0 || int(code) >= len(codeNames) {
		return "unknown status"
	}
	return codeNames[code]
}

// Status is a structured error carrying a Code plus optional context.
// It never embeds raw pointers or transport secrets; Context values are
// expected to be small, loggable identifiers (indices, names, sizes).
type Status struct {
	Code    Code
	Message string
	Context map[string]any
}

// New constructs a Status for code with message.
func New(code Code, message string) *Status {
	return &Status{Code: code, Message: message}
}

// Errorf constructs a Status with a formatted message.
func Errorf(code Code, format string, args ...any) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// WithContext attaches a key/value to the status and returns it for chaining.
func (s *Status) WithContext(key string, value any) *Status {
	if s.Context == nil {
		s.Context = make(map[string]any, 1)
	}
	s.Context[key] = value
	return s
}

// Error implements the error interface.
func (s *Status) Error() string {
	if len(s.Context) == 0 {
		return fmt.Sprintf("%s: %s", String(s.Code), s.Message)
	}
	return fmt.Sprintf("%s: %s (context: %+v)", String(s.Code), s.Message, s.Context)
}

// Is reports whether err is a *Status with the given code, so callers can
// write `errors.Is`-free code: uerr.Is(err, uerr.NoResource).
func Is(err error, code Code) bool {
	st, ok := err.(*Status)
	return ok && st.Code == code
}
