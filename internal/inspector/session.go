// Package inspector serves the desktop inspector over a websocket. Plugin
// messages are wrapped in execute envelopes addressed to the plugin's api;
// the inspector selects plugins with init and deinit calls.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskbridge/deskbridge-gateway/internal/plugins"
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Host is the plugin side of a session.
type Host interface {
	Attach(s plugins.Session)
	Detach(s plugins.Session)
	Activate(s plugins.Session, id string) error
	Deactivate(s plugins.Session, id string) error
	IDs() []string
}

type Config struct {
	WriteWait time.Duration
	PongWait  time.Duration
	ReadLimit int64
	SendQueue int
}

func (c Config) pingEvery() time.Duration { return (c.PongWait * 9) / 10 }

// Session is one attached inspector.
type Session struct {
	id   string
	conn *websocket.Conn
	host Host
	cfg  Config
	log  *zap.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	dropped   atomic.Int64
}

func NewSession(conn *websocket.Conn, host Host, cfg Config, log *zap.Logger) *Session {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	id := uuid.NewString()
	return &Session{
		id:   id,
		conn: conn,
		host: host,
		cfg:  cfg,
		log:  log.With(zap.String("session", id)),
		out:  make(chan []byte, cfg.SendQueue),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Connection returns the channel a plugin with the given api id sends on.
func (s *Session) Connection(api string) sdk.Connection {
	return &pluginConnection{api: api, session: s}
}

// Close asks Serve to end the session. It does not wait.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Dropped counts outbound messages discarded because the queue was full.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Serve attaches the session to the host and pumps messages until the
// socket closes or ctx is cancelled.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.host.Attach(s)
	defer s.host.Detach(s)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
			cancel()
		}
		// unblocks ReadMessage
		_ = s.conn.Close()
	}()

	err := s.readLoop()
	stopped := ctx.Err() != nil
	cancel()
	s.closeOnce.Do(func() { close(s.done) })
	<-writerDone

	if stopped || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (s *Session) readLoop() error {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		return err
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.handle(data)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.pingEvery())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteWait))
			return
		case b := <-s.out:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Debug("inspector write failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) handle(data []byte) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Warn("invalid inspector message", zap.Error(err))
		return
	}

	switch in.Method {
	case MethodGetPlugins:
		s.reply(in.ID, pluginList{Plugins: s.host.IDs()}, nil)
	case MethodInit, MethodDeinit:
		var p pluginParams
		if err := json.Unmarshal(in.Params, &p); err != nil || p.Plugin == "" {
			s.reply(in.ID, nil, fmt.Errorf("%s: missing plugin", in.Method))
			return
		}
		var err error
		if in.Method == MethodInit {
			err = s.host.Activate(s, p.Plugin)
		} else {
			err = s.host.Deactivate(s, p.Plugin)
		}
		if err != nil {
			s.log.Warn("inspector call failed", zap.String("method", in.Method), zap.String("plugin", p.Plugin), zap.Error(err))
		}
		s.reply(in.ID, map[string]any{}, err)
	case MethodExecute:
		// plugins here only send; nothing listens for inspector calls
		s.reply(in.ID, nil, errors.New("execute: plugin does not accept calls"))
	default:
		s.reply(in.ID, nil, fmt.Errorf("unknown method %q", in.Method))
	}
}

// reply answers a request. Notifications (no id) get no answer; their
// errors are only logged.
func (s *Session) reply(id json.RawMessage, success any, err error) {
	if len(id) == 0 {
		if err != nil {
			s.log.Debug("inspector notification failed", zap.Error(err))
		}
		return
	}
	msg := message{ID: id}
	if err != nil {
		msg.Error = &replyError{Message: err.Error()}
	} else {
		msg.Success = success
	}
	s.enqueue(msg)
}

func (s *Session) enqueue(msg message) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode inspector message", zap.String("method", msg.Method), zap.Error(err))
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- b:
	default:
		n := s.dropped.Add(1)
		s.log.Warn("inspector queue full, message dropped", zap.String("method", msg.Method), zap.Int64("dropped", n))
	}
}

type pluginConnection struct {
	api     string
	session *Session
}

func (c *pluginConnection) Send(method string, params *sdk.Object) {
	c.session.enqueue(message{
		Method: MethodExecute,
		Params: executeParams{API: c.api, Method: method, Params: params},
	})
}
