package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/runframe/agentrelay/internal/netutil"
)

var startTime = time.Now()

// AppVersion is set from main at startup via ldflags.
var AppVersion = "dev"

type SystemHandler struct {
	port int
	path string
}

func NewSystemHandler(port int, path string) *SystemHandler {
	return &SystemHandler{port: port, path: path}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":    AppVersion,
		"uptime":     formatDuration(time.Since(startTime)),
		"go_version": runtime.Version(),
		"relay_path": h.path,
		"local_url":  fmt.Sprintf("ws://localhost:%d%s", h.port, h.path),
	}
	if ip := netutil.GetLANIP(); ip != "" {
		info["lan_url"] = fmt.Sprintf("ws://%s:%d%s", ip, h.port, h.path)
	}
	writeJSON(w, http.StatusOK, info)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
