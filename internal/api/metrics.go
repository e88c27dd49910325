package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/fmops/gatehouse/internal/auth"
)

// SystemMetrics represents the complete system metrics response. The
// Accounts section appears only for administrative callers.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	InfluxDB      InfluxMetrics   `json:"influxdb"`
	Accounts      *AccountMetrics `json:"accounts,omitempty"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// InfluxMetrics contains InfluxDB client statistics.
type InfluxMetrics struct {
	Connected bool `json:"connected"`
}

// AccountMetrics contains account registry statistics.
type AccountMetrics struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Build metrics response
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		metrics.WebSocket = WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		}
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	// InfluxDB metrics (if available)
	if s.influx != nil {
		metrics.InfluxDB = InfluxMetrics{
			Connected: s.influx.IsConnected(),
		}
	}

	// Account registry stats — only for administrative callers. The route
	// runs through optionalAuth, so anonymous monitoring still works.
	if caller := accountFromContext(r.Context()); caller != nil && isAdminRole(caller.Role) {
		metrics.Accounts = &AccountMetrics{}
		if total, err := s.auth.Accounts().Count(r.Context()); err == nil {
			metrics.Accounts.Total = total
		} else {
			s.logger.Warn("account count for metrics failed", "error", err)
		}
		if active, err := s.auth.Accounts().CountByStatus(r.Context(), auth.StatusActive); err == nil {
			metrics.Accounts.Active = active
		}
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
