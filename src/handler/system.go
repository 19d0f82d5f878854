package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ramachokkalingam/cmdr-code/src/session"
)

// Build information, set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// SystemHandler handles process-wide, non-session-specific endpoints.
type SystemHandler struct {
	*BaseHandler
	registry *session.Registry
}

// NewSystemHandler wires a SystemHandler against the shared Registry so the
// health payload can report session counts alongside process liveness.
func NewSystemHandler(registry *session.Registry) *SystemHandler {
	return &SystemHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
	}
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	GitCommit     string  `json:"gitCommit"`
	BuildTime     string  `json:"buildTime"`
	GoVersion     string  `json:"goVersion"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	StartedAt     string  `json:"startedAt"`
	SessionCount  int     `json:"sessionCount"`
	ActiveCount   int     `json:"activeSessionCount"`
}

// HandleHealth reports process liveness and a point-in-time session count.
func (h *SystemHandler) HandleHealth(c *gin.Context) {
	uptime := time.Since(startTime)
	h.SendJSON(c, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       Version,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		UptimeSeconds: uptime.Seconds(),
		StartedAt:     startTime.Format(time.RFC3339),
		SessionCount:  h.registry.Count(),
		ActiveCount:   h.registry.ActiveCount(),
	})
}

// HandleWelcome answers the root path for any HTTP method with a minimal
// identifying payload, matching the teacher's catch-all root route.
func (h *SystemHandler) HandleWelcome(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, gin.H{
		"service": "cmdr",
		"version": Version,
	})
}
