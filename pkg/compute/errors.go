package compute

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// DeviceError reports a device API call that returned a non-success status.
//
// Backends fill in Op and Status. File and Line record the check site in the
// caller (see Trace), matching the "code file line" report of a failed call.
type DeviceError struct {
	Op     string
	Status Status
	File   string
	Line   int
	// Log holds the compiler output of a failed program build.
	Log string
	// Err is an optional underlying cause.
	Err error
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Status, int32(e.Status))
	if e.File != "" {
		msg += fmt.Sprintf(" at %s:%d", filepath.Base(e.File), e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Check returns nil for StatusSuccess and a *DeviceError for anything else.
func Check(op string, status Status) error {
	if status == StatusSuccess {
		return nil
	}
	return &DeviceError{Op: op, Status: status}
}

// Trace stamps the caller's file and line on a *DeviceError that has no
// location yet and returns err. A nil err stays nil.
func Trace(err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) && de.File == "" {
		if _, file, line, ok := runtime.Caller(1); ok {
			de.File, de.Line = file, line
		}
	}
	return err
}

// StatusOf extracts the device status from err. ok is false when err does
// not wrap a *DeviceError.
func StatusOf(err error) (Status, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Status, true
	}
	return StatusSuccess, false
}

// IsStatus reports whether err wraps a *DeviceError with the given status.
func IsStatus(err error, status Status) bool {
	s, ok := StatusOf(err)
	return ok && s == status
}
