package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	statsPushInterval = time.Second
	statsWriteTimeout = 10 * time.Second
	statsReadTimeout  = 120 * time.Second
)

// handleStatsWS streams session statistics snapshots over a websocket,
// one per second, until the client disconnects. Dashboards poll this
// instead of hammering /v1/voice/stats.
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.observeSessionEvent("stats_ws_connected")
	defer s.observeSessionEvent("stats_ws_disconnected")

	// Drain control frames so pings and close messages are processed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(1 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(statsReadTimeout))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(statsReadTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	// First snapshot immediately so a dashboard renders without waiting
	// for the ticker.
	if err := s.writeStatsFrame(conn); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case <-ticker.C:
			if err := s.writeStatsFrame(conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStatsFrame(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(statsWriteTimeout))
	return conn.WriteJSON(s.statsSnapshot())
}
