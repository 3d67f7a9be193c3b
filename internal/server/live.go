package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/twinscribe/twinscribe/internal/session"
	"github.com/twinscribe/twinscribe/internal/sink"
	"github.com/twinscribe/twinscribe/internal/transcript"
)

// liveWriteTimeout bounds every event write so a client that stopped
// reading cannot wedge the renderer.
const liveWriteTimeout = 10 * time.Second

// controlFrame is a client text frame. Binary frames carry raw PCM and need
// no envelope.
type controlFrame struct {
	Op         string `json:"op"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// serverEvent is the single envelope for everything the daemon sends on the
// live socket.
type serverEvent struct {
	Event     string               `json:"event"`
	SessionID string               `json:"session_id,omitempty"`
	Segment   *transcript.Segment  `json:"segment,omitempty"`
	Segments  []transcript.Segment `json:"segments,omitempty"`
	Recording *sink.Recording      `json:"recording,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// liveConsumer forwards renderer callbacks onto the socket. The mutex
// serializes them with protocol writes from the handler goroutine.
type liveConsumer struct {
	log       *slog.Logger
	sessionID string
	summary   func() sink.Recording

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConsumer) writeEvent(ev serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout)); err != nil {
		return
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		// The session keeps running; the recording and transcript outlive a
		// dropped socket.
		c.log.Debug("live event write failed", "event", ev.Event, "error", err)
	}
}

// OnSegment implements session.Consumer.
func (c *liveConsumer) OnSegment(seg transcript.Segment) {
	c.writeEvent(serverEvent{Event: "segment", SessionID: c.sessionID, Segment: &seg})
}

// OnComplete implements session.Consumer.
func (c *liveConsumer) OnComplete(final []transcript.Segment) {
	if final == nil {
		final = []transcript.Segment{}
	}
	rec := c.summary()
	c.writeEvent(serverEvent{
		Event:     "complete",
		SessionID: c.sessionID,
		Segments:  final,
		Recording: &rec,
	})
}

// handleLive runs one live capture session over an upgraded connection. The
// client opens with a start frame, streams binary PCM, and ends with a stop
// frame or by closing; the daemon answers with started, segment events as
// they exist, and one complete or error event.
func (s *Server) handleLive(conn *websocket.Conn) {
	defer conn.Close()

	start, err := s.awaitStart(conn)
	if err != nil {
		s.log.Debug("live handshake failed", "error", err)
		s.writeError(conn, "", err)
		return
	}

	if err := s.reserve(); err != nil {
		s.log.Info("live stream rejected", "error", err)
		s.writeError(conn, "", err)
		return
	}
	defer s.release()

	// The client may negotiate its own stream format; everything else comes
	// from the daemon configuration.
	cfg := s.cfg
	if start.SampleRate > 0 {
		cfg.SampleRate = start.SampleRate
	}
	if start.Channels > 0 {
		cfg.Channels = start.Channels
	}

	sessionID := uuid.NewString()
	rec, err := sink.NewFileSink(cfg.CaptureDir, sessionID, time.Now())
	if err != nil {
		s.log.Error("capture file", "session_id", sessionID, "error", err)
		s.writeError(conn, sessionID, err)
		return
	}

	pr, pw := io.Pipe()
	consumer := &liveConsumer{
		log:       s.log.With("session_id", sessionID),
		sessionID: sessionID,
		summary:   rec.Summary,
		conn:      conn,
	}

	sess, err := session.New(cfg, s.log, session.Deps{
		ID:       sessionID,
		Source:   pr,
		Sink:     rec,
		Engines:  s.engines,
		Consumer: consumer,
		Metrics:  s.metrics,
	})
	if err != nil {
		rec.Close()
		s.log.Error("live session setup", "session_id", sessionID, "error", err)
		s.writeError(conn, sessionID, err)
		return
	}
	if err := sess.Start(context.Background()); err != nil {
		rec.Close()
		s.writeError(conn, sessionID, err)
		return
	}
	s.publish(sess)

	consumer.writeEvent(serverEvent{Event: "started", SessionID: sessionID})
	s.log.Info("live session opened",
		"session_id", sessionID,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	s.pumpFrames(conn, pw, sessionID)

	// End of input. Closing the write side lets the session consume what
	// was already pushed, then drain the leftover tail.
	pw.Close()
	if err := sess.Wait(); err != nil {
		consumer.writeEvent(serverEvent{Event: "error", SessionID: sessionID, Error: err.Error()})
		s.log.Error("live session failed", "session_id", sessionID, "error", err)
		return
	}
	s.log.Info("live session closed",
		"session_id", sessionID,
		"segments", len(sess.Result().Segments),
		"recording", sess.Result().Recording.Path,
	)
}

// awaitStart reads the opening control frame.
func (s *Server) awaitStart(conn *websocket.Conn) (controlFrame, error) {
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		return controlFrame{}, fmt.Errorf("server: read start frame: %w", err)
	}
	if kind != websocket.TextMessage {
		return controlFrame{}, errors.New("server: expected a start frame before audio")
	}
	var frame controlFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return controlFrame{}, fmt.Errorf("server: parse start frame: %w", err)
	}
	if frame.Op != "start" {
		return controlFrame{}, fmt.Errorf("server: expected op \"start\", got %q", frame.Op)
	}
	return frame, nil
}

// pumpFrames feeds binary frames into the capture pipe until the client
// sends a stop frame, closes, or the session stops accepting audio.
func (s *Server) pumpFrames(conn *websocket.Conn, pw *io.PipeWriter, sessionID string) {
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("live connection dropped", "session_id", sessionID, "error", err)
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if len(payload) == 0 {
				continue
			}
			if _, err := pw.Write(payload); err != nil {
				// The session aborted underneath us; Wait has the cause.
				s.log.Debug("capture pipe closed", "session_id", sessionID, "error", err)
				return
			}
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				s.log.Debug("malformed control frame ignored", "session_id", sessionID, "error", err)
				continue
			}
			if frame.Op == "stop" {
				s.log.Info("stop requested by client", "session_id", sessionID)
				return
			}
			s.log.Debug("control frame ignored", "session_id", sessionID, "op", frame.Op)
		}
	}
}

func (s *Server) writeError(conn *websocket.Conn, sessionID string, err error) {
	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	werr := conn.WriteJSON(serverEvent{Event: "error", SessionID: sessionID, Error: err.Error()})
	if werr != nil {
		s.log.Debug("error event write failed", "error", werr)
	}
}
