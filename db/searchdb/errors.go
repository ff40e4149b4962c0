package searchdb

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidResponse = errors.New("invalid engine response")

// TransportError means the request never got an HTTP response: connection
// refused, DNS failure, timeout.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("engine transport error on %s %s: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EngineError means the engine answered with a non-2xx status or an error
// object in the payload.
type EngineError struct {
	StatusCode int
	Type       string
	Reason     string
	Body       json.RawMessage
}

func (e *EngineError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("engine error %d (%s): %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("engine error %d", e.StatusCode)
}

// parseEngineError inspects a response body for an error object. It returns
// nil when the status is 2xx and no error is present.
func parseEngineError(statusCode int, body []byte) *EngineError {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	hasError := len(payload.Error) > 0 && string(payload.Error) != "null"
	if statusCode >= 200 && statusCode < 300 && !hasError {
		return nil
	}

	engineErr := &EngineError{StatusCode: statusCode, Body: body}
	if !hasError {
		return engineErr
	}

	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload.Error, &detail); err == nil {
		engineErr.Type = detail.Type
		engineErr.Reason = detail.Reason
		return engineErr
	}

	var reason string
	if err := json.Unmarshal(payload.Error, &reason); err == nil {
		engineErr.Reason = reason
	}
	return engineErr
}
