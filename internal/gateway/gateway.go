// Package gateway exposes sessions over WebSocket. Connected clients
// exchange:
//
//	inbound, JSON text frames:
//	  {"type":"transcript","text":"...","final":true}
//	  {"type":"speech_detected"}
//
//	inbound, binary frames:
//	  raw PCM audio — transcribed server-side when an STT provider is
//	  configured (see WithIngest), ignored otherwise
//
//	outbound:
//	  JSON text frames  {"type":"reply","text":"..."}
//	  binary frames     synthesized audio chunks
//
// Clients doing their own capture and transcription send text frames only;
// thin clients stream audio and let the server run VAD and STT. One
// WebSocket connection maps to one session. Closing the connection closes
// the session.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/solivox/solivox/internal/session"
	"github.com/solivox/solivox/pkg/provider/stt"
	"github.com/solivox/solivox/pkg/provider/vad"
	"github.com/solivox/solivox/pkg/types"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// inboundMessage is a control frame from the front end.
type inboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// outboundMessage is a text frame sent to the front end.
type outboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Server bridges WebSocket connections to sessions.
type Server struct {
	manager *session.Manager
	logger  *slog.Logger

	// stt and vad enable server-side transcription of inbound binary
	// frames. Both nil means audio flows outbound only.
	stt       stt.Provider
	vad       vad.Engine
	ingestCfg IngestConfig
}

// Option configures a Server.
type Option func(*Server)

// WithIngest enables server-side transcription: inbound binary frames pass
// the VAD gate (when engine is non-nil) and feed an STT stream per
// connection. A nil provider leaves ingest disabled.
func WithIngest(provider stt.Provider, engine vad.Engine, cfg IngestConfig) Option {
	return func(s *Server) {
		s.stt = provider
		s.vad = engine
		s.ingestCfg = cfg
	}
}

// NewServer returns a Server backed by manager.
func NewServer(manager *session.Manager, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{manager: manager, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the session route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", s.handleSession)
}

// handleSession upgrades the connection, opens a session, and pumps frames
// both ways until either side disconnects.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = fmt.Sprintf("session-%s", time.Now().UTC().Format("20060102T150405.000Z0700"))
	}
	profile := r.URL.Query().Get("profile")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := s.manager.Open(ctx, id, profile)
	if err != nil {
		s.logger.Error("opening session failed", "session_id", id, "profile", profile, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "session unavailable")
		return
	}
	defer s.manager.Close(id)

	logger := s.logger.With("session_id", id)
	logger.Info("connection established")

	var in *ingest
	if s.stt != nil {
		in, err = s.startIngest(ctx, sess)
		if err != nil {
			logger.Error("starting audio ingest failed", "error", err)
			conn.Close(websocket.StatusInternalError, "transcription unavailable")
			return
		}
		defer in.close()
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(ctx, conn, sess, in)
	}()

	err = s.writeLoop(ctx, conn, sess, readErr)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Info("connection closed", "reason", err)
	} else {
		logger.Info("connection closed")
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop decodes inbound control frames into session events and routes
// audio frames through the ingest pipeline.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, in *ingest) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if in != nil {
				in.handleChunk(data)
			}
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch msg.Type {
		case "transcript":
			err = sess.HandleTranscript(types.Transcript{Text: msg.Text, IsFinal: msg.Final})
		case "speech_detected":
			err = sess.Deliver(session.Event{Type: session.EventSpeechDetected})
		default:
			s.logger.Warn("discarding frame of unknown type", "type", msg.Type)
		}
		if err != nil {
			return err
		}
	}
}

// writeLoop forwards reply texts and audio chunks to the connection.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, readErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case reply, ok := <-sess.Replies():
			if !ok {
				return nil
			}
			data, err := json.Marshal(outboundMessage{Type: "reply", Text: reply})
			if err != nil {
				return fmt.Errorf("gateway: encoding reply: %w", err)
			}
			if err := writeFrame(ctx, conn, websocket.MessageText, data); err != nil {
				return err
			}
		case chunk, ok := <-sess.Audio():
			if !ok {
				return nil
			}
			if err := writeFrame(ctx, conn, websocket.MessageBinary, chunk); err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, typ, data)
}
