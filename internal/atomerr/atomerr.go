// Package atomerr models the seven error kinds spec.md §7 declares,
// using github.com/agilira/go-errors for structured codes and context,
// in the style of _examples/agilira-balios/errors.go. Every error a
// caller can observe carries the offending URI, key hex, or atom
// serialization, per §7's "user-visible failure behavior".
package atomerr

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes, one per kind in spec.md §7.
const (
	CodeBadURI             errors.ErrorCode = "ATOMDHT_BAD_URI"
	CodeNotConnected       errors.ErrorCode = "ATOMDHT_NOT_CONNECTED"
	CodeObservingOnly      errors.ErrorCode = "ATOMDHT_OBSERVING_ONLY"
	CodeOverlayUnavailable errors.ErrorCode = "ATOMDHT_OVERLAY_UNAVAILABLE"
	CodeNotFound           errors.ErrorCode = "ATOMDHT_NOT_FOUND"
	CodeDecodeError        errors.ErrorCode = "ATOMDHT_DECODE_ERROR"
	CodePortInUse          errors.ErrorCode = "ATOMDHT_PORT_IN_USE"
)

// NewBadURI reports a malformed dht:// connection string.
func NewBadURI(uri string, reason string) error {
	return errors.NewWithContext(CodeBadURI, "malformed overlay URI", map[string]interface{}{
		"uri":    uri,
		"reason": reason,
	})
}

// NewNotConnected reports an operation attempted before Open or after Close.
func NewNotConnected(op string) error {
	return errors.NewWithField(CodeNotConnected, "backing store is not connected", "operation", op)
}

// NewObservingOnly reports a write attempted on an observing-mode instance.
func NewObservingOnly(op, uri string) error {
	return errors.NewWithContext(CodeObservingOnly, "write attempted on an observing-mode node", map[string]interface{}{
		"operation": op,
		"uri":       uri,
	}).AsRetryable()
}

// NewOverlayUnavailable reports that a Get exceeded its wait window.
func NewOverlayUnavailable(keyHex string, wait interface{}) error {
	return errors.NewWithContext(CodeOverlayUnavailable, "overlay get exceeded wait window", map[string]interface{}{
		"key":       keyHex,
		"wait_time": wait,
	}).AsRetryable()
}

// NewNotFound reports a GUID lookup that returned zero records.
func NewNotFound(keyHex string) error {
	return errors.NewWithField(CodeNotFound, "no record at key", "key", keyHex)
}

// NewDecodeError reports a payload that failed to parse.
func NewDecodeError(payload string, cause error) error {
	return errors.Wrap(cause, CodeDecodeError, "failed to decode payload").
		WithContext("payload", payload)
}

// NewPortInUse reports that ten successive ports failed to bind.
func NewPortInUse(firstPort int) error {
	return errors.NewWithContext(CodePortInUse, "no free port found after 10 attempts", map[string]interface{}{
		"first_port": firstPort,
	})
}

// HasCode reports whether err carries code, unwrapping as needed.
func HasCode(err error, code errors.ErrorCode) bool {
	return errors.HasCode(err, code)
}

// Code extracts the error code from err, or "" if err doesn't carry one.
func Code(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}
