package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coopsim.io/internal/protocol"
)

// Record is one relayed request as seen by the relay.
type Record struct {
	At            time.Time       `json:"at"`
	SessionID     string          `json:"session_id"`
	ParticipantID string          `json:"participant_id"`
	Type          string          `json:"type"`
	Fanout        int             `json:"fanout"`
	Msg           json.RawMessage `json:"msg"`
}

// Recorder receives relayed requests and participant lifecycle. It is called
// from connection goroutines and must not block.
type Recorder interface {
	RecordMessage(r Record)
	RecordParticipant(sessionID, participantID, name string, joined bool)
}

type ServerConfig struct {
	MaxParticipants int
	MaxMessageBytes int64
	SendQueue       int
}

type Server struct {
	cfg ServerConfig
	log *slog.Logger
	rec Recorder

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*room
	conns    map[*websocket.Conn]struct{}
	closing  bool
	active   sync.WaitGroup

	relayed  atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

type room struct {
	id      string
	members map[string]*member
	// pinned rooms outlive their last participant.
	pinned bool
}

type member struct {
	id   string
	name string
	out  chan []byte
}

func NewServer(cfg ServerConfig, logger *slog.Logger, rec Recorder) *Server {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 8
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      logger.With("component", "relay"),
		rec:      rec,
		sessions: map[string]*room{},
		conns:    map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// OpenSession creates a named session ahead of any HELLO.
func (s *Server) OpenSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = &room{id: id, members: map[string]*member{}, pinned: true}
	}
}

type ServerStats struct {
	Sessions     int
	Participants int
	Relayed      uint64
	Rejected     uint64
	Dropped      uint64
}

func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	st := ServerStats{Sessions: len(s.sessions)}
	for _, r := range s.sessions {
		st.Participants += len(r.members)
	}
	s.mu.Unlock()
	st.Relayed = s.relayed.Load()
	st.Rejected = s.rejected.Load()
	st.Dropped = s.dropped.Load()
	return st
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			closeWithCode(conn, websocket.CloseGoingAway, "relay shutting down")
			return
		}
		defer s.untrack(conn)
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		rm, m := s.handshake(conn)
		if m == nil {
			return
		}
		log := s.log.With("session", rm.id, "participant", m.id)
		log.Info("participant joined", "name", m.name)
		if s.rec != nil {
			s.rec.RecordParticipant(rm.id, m.id, m.name, true)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-m.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				s.rejected.Add(1)
				log.Debug("rejected message", "err", err)
				continue
			}
			n, ok := protocol.NotifyFor(msg)
			if !ok {
				s.rejected.Add(1)
				log.Debug("not a request", "type", msg.MessageType())
				continue
			}
			s.fanout(rm, m, msg.MessageType(), raw, n)
		}

		s.leave(rm, m)
		log.Info("participant left")
		if s.rec != nil {
			s.rec.RecordParticipant(rm.id, m.id, m.name, false)
		}
	}
}

// Close disconnects every connection, refuses new ones and returns once
// connection goroutines have made their last Recorder call. http.Server's
// Shutdown does not touch hijacked websocket connections, so call Close
// before tearing down the Recorder.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		closeWithCode(c, websocket.CloseGoingAway, "relay shutting down")
		_ = c.Close()
	}
	s.active.Wait()
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Done()
}

func (s *Server) fanout(rm *room, from *member, typ string, raw []byte, n protocol.Message) {
	b, err := protocol.Encode(n)
	if err != nil {
		s.rejected.Add(1)
		return
	}
	s.mu.Lock()
	targets := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	s.mu.Unlock()

	for _, m := range targets {
		select {
		case m.out <- b:
		default:
			// Slow participant: notifications are not buffered beyond the queue.
			s.dropped.Add(1)
			s.log.Warn("participant queue full; notification dropped", "participant", m.id, "type", n.MessageType())
		}
	}
	s.relayed.Add(1)
	if s.rec != nil {
		s.rec.RecordMessage(Record{
			At:            time.Now().UTC(),
			SessionID:     rm.id,
			ParticipantID: from.id,
			Type:          typ,
			Fanout:        len(targets),
			Msg:           append(json.RawMessage(nil), raw...),
		})
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*room, *member) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(raw)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil, nil
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		closeWith(conn, protocol.ErrProtoVersion, "bad protocol_version or HELLO")
		return nil, nil
	}
	hello := msg.(protocol.HelloMsg)
	name := strings.TrimSpace(hello.ParticipantName)
	if name == "" {
		name = "participant"
	}

	rm, m, code := s.join(strings.TrimSpace(hello.SessionID), name)
	if code != "" {
		closeWith(conn, code, "cannot join session")
		return nil, nil
	}

	if err := writeJSON(conn, protocol.WelcomeMsg{SessionID: rm.id, ParticipantID: m.id}); err != nil {
		s.leave(rm, m)
		return nil, nil
	}
	return rm, m
}

// join places a participant into sessionID; an empty id opens a new session.
func (s *Server) join(sessionID, name string) (*room, *member, string) {
	pid, err := uuid.NewV7()
	if err != nil {
		return nil, nil, protocol.ErrInternal
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rm *room
	if sessionID == "" {
		sid, err := uuid.NewV7()
		if err != nil {
			return nil, nil, protocol.ErrInternal
		}
		rm = &room{id: sid.String(), members: map[string]*member{}}
		s.sessions[rm.id] = rm
	} else {
		var ok bool
		rm, ok = s.sessions[sessionID]
		if !ok {
			return nil, nil, protocol.ErrSessionNotFound
		}
	}
	if len(rm.members) >= s.cfg.MaxParticipants {
		return nil, nil, protocol.ErrSessionFull
	}
	m := &member{id: pid.String(), name: name, out: make(chan []byte, s.cfg.SendQueue)}
	rm.members[m.id] = m
	return rm, m, ""
}

func (s *Server) leave(rm *room, m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(rm.members, m.id)
	if len(rm.members) == 0 && !rm.pinned {
		delete(s.sessions, rm.id)
	}
}

func closeWith(conn *websocket.Conn, code, text string) {
	closeWithCode(conn, websocket.ClosePolicyViolation, code+": "+text)
}

func closeWithCode(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
