package healthwarehouse

import (
	"errors"
	"net/http"
)

// RemoteAPIError is returned for every non-2xx response from HealthWarehouse.
type RemoteAPIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RemoteAPIError) Error() string {
	return "HealthWarehouse API Error: " + e.Message
}

// errorBody is the error envelope. "error" is not consistently a string.
type errorBody struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (b *errorBody) message(status int) string {
	if b != nil {
		if s, ok := b.Error.(string); ok && s != "" {
			return s
		}
		if b.Message != "" {
			return b.Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}

// StatusOf returns the HTTP status carried by a RemoteAPIError, or 0.
func StatusOf(err error) int {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from HealthWarehouse.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsClientError reports a 4xx rejection caused by the request itself; such
// errors say nothing about the health of the platform. 429 is excluded.
func IsClientError(err error) bool {
	status := StatusOf(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
