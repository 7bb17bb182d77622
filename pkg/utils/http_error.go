package utils

import "fmt"

// HTTPError is returned when the server answers with a non-2xx status.
// Errors that are not HTTPErrors indicate the server was unreachable.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Body       string `json:"body,omitempty"`
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("server returned %s", e.Status)
}

// IsClientError reports whether the status is a 4xx
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports whether the status is a 5xx
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}
