package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/runrecord"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var wsClients int64

func trackWSClient(delta int64) {
	metrics.UpdateWebSocketClients(int(atomic.AddInt64(&wsClients, delta)))
}

// handleWebSocket streams events to one client. Without parameters the
// stream is live bus traffic filtered by the query; with ?replay=<runId>
// it replays a stored run under client control.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	trackWSClient(1)
	defer trackWSClient(-1)

	if replayID := c.Query("replay"); replayID != "" {
		s.streamReplay(conn, replayID)
		return
	}
	s.streamLive(conn, filterFromQuery(c))
}

// filterFromQuery builds the bus filter from query params. List params
// are comma-separated.
func filterFromQuery(c *gin.Context) events.Filter {
	f := events.Filter{RunID: c.Query("runId")}
	f.Agents = splitParam(c.Query("agents"))
	f.Types = splitParam(c.Query("types"))
	for _, raw := range splitParam(c.Query("severities")) {
		sev := events.Severity(raw)
		if events.ValidSeverity(sev) {
			f.Severities = append(f.Severities, sev)
		}
	}
	return f
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// streamLive pumps bus events to the client until either side closes.
// Bus heartbeats double as the keepalive.
func (s *Server) streamLive(conn *websocket.Conn, filter events.Filter) {
	if s.bus == nil {
		writeWSError(conn, "event bus is not configured")
		return
	}

	sub := s.bus.Subscribe(filter)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

// replayCommand is a client control message during replay
type replayCommand struct {
	Action   string `json:"action"` // play | pause | step | seek
	Position int    `json:"position"`
}

// streamReplay replays a stored run over the socket. The client steers
// pacing with play/pause/step/seek messages; inter-event gaps are capped
// so stalled runs replay quickly.
func (s *Server) streamReplay(conn *websocket.Conn, runID string) {
	if s.records == nil {
		writeWSError(conn, "run records are not configured")
		return
	}

	rec, err := s.records.Fetch(runID)
	if errors.Is(err, runrecord.ErrRecordNotFound) {
		writeWSError(conn, "run not found: "+runID)
		return
	}
	if err != nil {
		writeWSError(conn, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan events.Event, 64)
	player, err := runrecord.NewPlayer(rec, s.replayMaxDelay, func(e events.Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	})
	if err != nil {
		writeWSError(conn, err.Error())
		return
	}

	// Read pump doubles as the replay controller; a read error means the
	// client went away and cancels the replay.
	go func() {
		defer cancel()
		for {
			var cmd replayCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Action {
			case "play":
				player.Play()
			case "pause":
				player.Pause()
			case "step":
				player.Step()
			case "seek":
				player.Seek(cmd.Position)
			}
		}
	}()

	playErr := make(chan error, 1)
	go func() {
		defer close(out)
		playErr <- player.Run(ctx)
	}()

	for e := range out {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
	if err := <-playErr; err != nil {
		writeWSError(conn, err.Error())
	}
}

func writeWSError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(map[string]interface{}{"type": "error", "message": message})
}
