package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is non 2xx gateway answer
type Error struct {
	StatusCode int

	// Human readable reason from {"detail": "..."} body, raw body text when it is not JSON
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gateway answered %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway answered %d: %s", e.StatusCode, e.Detail)
}

// Detail limit is enough for any message worth showing
const maxErrorBody = 4 << 10

// Build Error from response. Body is consumed
func newError(resp *http.Response) *Error {
	e := &Error{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return e
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		e.Detail = strings.TrimSpace(string(body))
		return e
	}

	// Detail may be a plain string or validation structure
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		e.Detail = detail
	} else {
		e.Detail = string(payload.Detail)
	}

	return e
}

// Refresh endpoint answers with these when refresh credential is gone for good
func isRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return false
	}
}
