package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/httputil"
)

type systemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
}

type healthResponse struct {
	Status   string         `json:"status"`
	Backend  backend.Status `json:"backend"`
	Services []string       `json:"services"`
	System   *systemStats   `json:"system,omitempty"`
}

// health reports "ok" when every backend part is configured and "degraded"
// otherwise. Host stats are best effort.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.app.Backend.Status()
	resp := healthResponse{
		Status:   "ok",
		Backend:  status,
		Services: h.app.Services(),
		System:   readSystemStats(r.Context()),
	}
	if !status.Complete() {
		resp.Status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func readSystemStats(ctx context.Context) *systemStats {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	stats := &systemStats{
		MemoryPercent: vm.UsedPercent,
		MemoryUsedMB:  vm.Used / (1 << 20),
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	return stats
}
