package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/trackside/signalbox/internal/catalog"
)

// SystemStatus is the /api/v1/status response.
type SystemStatus struct {
	Timestamp     string                                     `json:"timestamp"`
	Version       string                                     `json:"version"`
	UptimeSeconds int64                                      `json:"uptime_seconds"`
	Runtime       RuntimeStatus                              `json:"runtime"`
	Channel       ChannelStatusInfo                          `json:"channel"`
	Relay         RelayStatus                                `json:"relay"`
	State         StateStatus                                `json:"state"`
	Catalog       map[catalog.Resource]catalog.ResourceStats `json:"catalog"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ChannelStatusInfo reports the backend channel.
type ChannelStatusInfo struct {
	Connected bool `json:"connected"`
}

// RelayStatus reports the WebSocket relay.
type RelayStatus struct {
	ConnectedClients int `json:"connected_clients"`
}

// StateStatus reports the live store.
type StateStatus struct {
	Version uint64         `json:"version"`
	ByKind  map[string]int `json:"by_kind"`
}

// handleStatus returns a JSON summary of the process for dashboards that
// do not scrape Prometheus.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.store.Read()
	byKind := make(map[string]int, len(catalog.Kinds))
	for _, kind := range catalog.Kinds {
		byKind[string(kind)] = snap.Len(kind)
	}

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Relay:   RelayStatus{ConnectedClients: s.hub.ClientCount()},
		State:   StateStatus{Version: snap.Version(), ByKind: byKind},
		Catalog: s.catalog.Stats(),
	}
	if s.channel != nil {
		status.Channel.Connected = s.channel.Connected()
	}

	writeJSON(w, http.StatusOK, status)
}
