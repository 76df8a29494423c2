// Package devicesim runs the device side of the panel protocol over
// WebSocket. It is used by the integration tests and by cmd/devicesim.
package devicesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

const (
	DefaultHomeID = "720frontrd"
	readLimit     = 1024 * 1024
	writeTimeout  = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHomeID sets the home id stamped on acks and pongs.
func WithHomeID(id string) Option {
	return func(s *Server) { s.homeID = id }
}

// WithInstanceID sets the instance id reported in pongs.
func WithInstanceID(id string) Option {
	return func(s *Server) { s.instanceID = id }
}

// WithInitialMode sets the mode the device starts in.
func WithInitialMode(m model.Mode) Option {
	return func(s *Server) {
		if m.Valid() {
			s.mode = m
		}
	}
}

// WithAcceptOptions passes options through to websocket.Accept.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(s *Server) { s.acceptOptions = opts }
}

// Server is an http.Handler that upgrades requests and speaks the device
// protocol on each connection.
type Server struct {
	logger        *slog.Logger
	homeID        string
	instanceID    string
	acceptOptions *websocket.AcceptOptions
	now           func() time.Time

	mu            sync.Mutex
	mode          model.Mode
	sessions      map[*session]struct{}
	received      []wire.Command
	pendingErrors int
	silent        bool
	accepted      int
	closed        bool
}

type session struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

// New creates a device simulator in the disarmed mode.
func New(opts ...Option) *Server {
	s := &Server{
		logger:     slog.Default(),
		homeID:     DefaultHomeID,
		instanceID: uuid.NewString()[:8],
		now:        time.Now,
		mode:       model.ModeDisarm,
		sessions:   make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "device is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions)
	if err != nil {
		s.logger.Info("Device: failed to accept websocket connection", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: uuid.NewString()[:8], conn: conn, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.accepted++
	s.mu.Unlock()
	s.logger.Info("Device: panel connected", "session", sess.id, "remote", r.RemoteAddr)

	s.readPump(sess)
}

func (s *Server) readPump(sess *session) {
	defer s.remove(sess)

	for {
		_, data, err := sess.conn.Read(sess.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if errors.Is(err, context.Canceled) || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Info("Device: session closing", "session", sess.id, "status", int(status))
			} else {
				s.logger.Info("Device: read error", "session", sess.id, "error", err)
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("Device: undecodable frame", "session", sess.id, "error", err)
			continue
		}
		s.handle(sess, msg)
	}
}

func (s *Server) handle(sess *session, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Keepalive:
		if m.Event != wire.EventPing || s.isSilent() {
			return
		}
		s.write(sess, &wire.Keepalive{
			Event:       wire.EventPong,
			SystemState: s.modeJSON(),
			HomeID:      s.homeID,
			InstanceID:  s.instanceID,
			Timestamp:   wire.At(s.now()),
		})
	case *wire.Command:
		s.command(sess, m)
	default:
		s.logger.Debug("Device: ignoring frame", "session", sess.id, "type", fmt.Sprintf("%T", msg))
	}
}

func (s *Server) command(sess *session, cmd *wire.Command) {
	s.mu.Lock()
	s.received = append(s.received, *cmd)
	silent := s.silent
	injectError := s.pendingErrors > 0
	if injectError && !silent {
		s.pendingErrors--
	}
	s.mu.Unlock()

	s.logger.Info("Device: received command", "command", cmd.Command, "commandId", cmd.CommandID)
	switch {
	case silent:
		return
	case injectError:
		s.write(sess, &wire.ServerError{Message: wire.ServerErrorMessage})
		return
	}

	switch mode := model.Mode(cmd.Command); {
	case mode.Valid():
		s.mu.Lock()
		s.mode = mode
		s.mu.Unlock()
		s.write(sess, s.ack(cmd.CommandID))
		s.broadcast(&wire.StatePush{State: s.modeJSON(), Timestamp: wire.At(s.now())})
	case cmd.Command == model.CommandGetSystemState:
		s.write(sess, s.ack(cmd.CommandID))
	default:
		s.logger.Warn("Device: unsupported command", "command", cmd.Command)
	}
}

func (s *Server) ack(commandID string) *wire.CommandAck {
	ok := true
	return &wire.CommandAck{
		CommandID: commandID,
		State:     s.modeJSON(),
		Success:   &ok,
		HomeID:    s.homeID,
		Timestamp: wire.At(s.now()),
	}
}

func (s *Server) modeJSON() json.RawMessage {
	b, _ := json.Marshal(s.Mode())
	return b
}

func (s *Server) write(sess *session, m wire.Message) {
	data, err := wire.Encode(m)
	if err != nil {
		s.logger.Error("Device: encode failed", "error", err)
		return
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(sess.ctx, writeTimeout)
	defer cancel()
	if err := sess.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Info("Device: write failed", "session", sess.id, "error", err)
	}
}

func (s *Server) broadcast(m wire.Message) {
	for _, sess := range s.snapshot() {
		s.write(sess, m)
	}
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) remove(sess *session) {
	sess.cancel()
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	sess.conn.CloseNow()
	s.logger.Info("Device: panel disconnected", "session", sess.id)
}

func (s *Server) isSilent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silent
}

// Mode returns the current mode.
func (s *Server) Mode() model.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the mode and pushes the new state to every panel, as a
// keypad change on the device would.
func (s *Server) SetMode(m model.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("devicesim: invalid mode %q", m)
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.broadcast(&wire.StatePush{State: s.modeJSON(), Timestamp: wire.At(s.now())})
	return nil
}

// InjectServerErrors makes the next n commands fail with the gateway's
// transient error instead of being executed.
func (s *Server) InjectServerErrors(n int) {
	s.mu.Lock()
	s.pendingErrors += n
	s.mu.Unlock()
}

// SetSilent stops the device from answering anything while on. Commands are
// still recorded.
func (s *Server) SetSilent(on bool) {
	s.mu.Lock()
	s.silent = on
	s.mu.Unlock()
}

// Ping sends a ping to every connected panel.
func (s *Server) Ping() {
	s.broadcast(&wire.Keepalive{Event: wire.EventPing, Timestamp: wire.At(s.now())})
}

// DropConnections closes every session with the given close code.
func (s *Server) DropConnections(code websocket.StatusCode) {
	for _, sess := range s.snapshot() {
		sess.conn.Close(code, "device dropped connection")
	}
}

// Received returns the commands seen so far, in arrival order.
func (s *Server) Received() []wire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Command(nil), s.received...)
}

// ReceivedNames returns the command names seen so far.
func (s *Server) ReceivedNames() []string {
	cmds := s.Received()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Command
	}
	return names
}

// Connections returns the number of open sessions.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Accepted returns how many connections have been accepted in total.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close rejects new connections and closes the open ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, sess := range s.snapshot() {
		sess.conn.Close(websocket.StatusGoingAway, "device shutting down")
	}
}

// String describes the simulator for logs.
func (s *Server) String() string {
	return fmt.Sprintf("devicesim(%s/%s mode=%s)", s.homeID, s.instanceID, strings.ToLower(string(s.Mode())))
}
