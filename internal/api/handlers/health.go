package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drfirst/go-rxbridge/pkg/circuitbreaker"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health. It does not touch dependencies.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"stat// BreakerStatus is a circuit breaker reported on /ready.
type BreakerStatus interface {
	Name() string
	GetState() circuitbreaker.State
	Counts() gobreaker.Counts
}

// Check is a named dependency probe run on /ready.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Readiness describes what GET /ready verifies and reports. Breakers and
// Stats are informational; only DB and Checks decide the status code.
type Readiness struct {
	DB       Pinger
	Checks   []Check
	Breakers []BreakerStatus
	Stats    func() any
}

type breakerReport struct {
	State               circuitbreaker.State `json:"state"`
	Requests            uint32               `json:"requests"`
	ConsecutiveFailures uint32               `json:"consecutive_failures"`
}

type readyResponse struct {
	Status   string                   `json:"status"`
	Error    string                   `json:"error,omitempty"`
	Breakers map[string]breakerReport `json:"breakers,omitempty"`
	Stats    any                      `json:"stats,omitempty"`
}

// Handler returns the GET /ready handler, failing with 503 while a
// dependency is unreachable.
func (rd Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := readyResponse{Status: "ready"}
		if len(rd.Breakers) > 0 {
			resp.Breakers = make(map[string]breakerReport, len(rd.Breakers))
			for _, b := range rd.Breakers {
				counts := b.Counts()
				resp.Breakers[b.Name()] = breakerReport{
					State:               b.GetState(),
					Requests:            counts.Requests,
					ConsecutiveFailures: counts.ConsecutiveFailures,
				}
			}
		}
		if rd.Stats != nil {
			resp.Stats = rd.Stats()
		}

		code := http.StatusOK
		if rd.DB != nil {
			if err := rd.DB.Ping(ctx); err != nil {
				resp.Status, resp.Error = "unavailable", "database unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		if code == http.StatusOK {
			for _, check := range rd.Checks {
				if err := check.Fn(ctx); err != nil {
					resp.Status, resp.Error = "unavailable", check.Name+" unreachable"
					code = http.StatusServiceUnavailable
					break
				}
			}
		}

		writeJSON(w, code, resp)
	}
}

eturn
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	jsonError(w, "Not Found", http.StatusNotFound)
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}
