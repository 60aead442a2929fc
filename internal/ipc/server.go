package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one request and returns the reply.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	Logger         *slog.Logger
}

// DefaultServerConfig places the socket in dir.
func DefaultServerConfig(dir string) ServerConfig {
	return ServerConfig{
		SocketPath:     SocketPath(dir),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxConnections: 16,
	}
}

// SocketPath returns the control socket location under dir.
func SocketPath(dir string) string {
	return filepath.Join(dir, "keydance.sock")
}

// Server accepts CLI connections on a Unix socket.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	log      *slog.Logger
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 16
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log.With("component", "ipc"),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ErrAlreadyRunning is returned by Start when another daemon owns the socket.
var ErrAlreadyRunning = errors.New("another keydance daemon is listening")

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if IsSocketListening(s.cfg.SocketPath) {
		return ErrAlreadyRunning
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, then removes the
// socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return CleanupSocket(s.cfg.SocketPath)
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept", "error", err)
			continue
		}

		if ok, err := VerifyPeerIsCurrentUser(conn); err != nil || !ok {
			s.log.Warn("rejected connection from another user", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.log.Debug("connection closed", "error", err)
			}
			return
		}

		resp := s.processMessage(msg)
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := resp.Write(conn); err != nil {
			return
		}
	}
}

func (s *Server) processMessage(msg *Message) *Message {
	id := msg.Header.RequestID
	if msg.Header.Type == MsgPing {
		return NewMessage(MsgPong, id, nil)
	}
	if s.handler == nil {
		return NewErrorMessage(id, ErrUnknownType, "no handler")
	}

	resp, err := s.handler.HandleMessage(s.ctx, msg)
	if err != nil {
		var er *ErrorResponse
		if errors.As(err, &er) {
			return NewErrorMessage(id, er.Code, er.Message)
		}
		return NewErrorMessage(id, ErrInternal, err.Error())
	}
	if resp == nil {
		return NewErrorMessage(id, ErrUnknownType, "unsupported request "+msg.Header.Type.String())
	}
	resp.Header.RequestID = id
	return resp
}

// CleanupSocket removes a stale socket file. Anything else at path is left
// alone and reported.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether a daemon answers on path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
