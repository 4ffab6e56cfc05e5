package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/0xideahub/OpenStock/internal/database"
)

// SystemHandlers serves process and host diagnostics.
type SystemHandlers struct {
	cacheDB   *database.DB
	log       zerolog.Logger
	startTime time.Time
}

// NewSystemHandlers creates the system status handlers.
func NewSystemHandlers(cacheDB *database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		cacheDB:   cacheDB,
		log:       log.With().Str("component", "system_handlers").Logger(),
		startTime: time.Now(),
	}
}

type systemStatus struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	CPUPercent    float64        `json:"cpu_percent"`
	Memory        memoryStatus   `json:"memory"`
	Goroutines    int            `json:"goroutines"`
	CacheDB       *databaseStats `json:"cache_db,omitempty"`
}

type memoryStatus struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

type databaseStats struct {
	SizeBytes    int64 `json:"size_bytes"`
	WALSizeBytes int64 `json:"wal_size_bytes"`
	PageCount    int64 `json:"page_count"`
	PageSize     int64 `json:"page_size"`
	FreePages    int64 `json:"free_pages"`
}

// HandleSystemStatus serves GET /api/system/status.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := systemStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		status.CPUPercent = percentages[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		status.Memory = memoryStatus{
			TotalBytes:  vmem.Total,
			UsedBytes:   vmem.Used,
			UsedPercent: vmem.UsedPercent,
		}
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	if h.cacheDB != nil {
		if stats, err := h.cacheDB.GetStats(); err == nil {
			status.CacheDB = &databaseStats{
				SizeBytes:    stats.SizeBytes,
				WALSizeBytes: stats.WALSizeBytes,
				PageCount:    stats.PageCount,
				PageSize:     stats.PageSize,
				FreePages:    stats.FreelistCount,
			}
		} else {
			h.log.Warn().Err(err).Msg("Failed to read database stats")
			status.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}
