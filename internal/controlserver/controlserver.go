// Package controlserver implements the daemon's JSON-RPC-over-unix-socket
// control protocol (spec §4.9, §6 "Control socket"). Grounded on
// baiirun/aetherflow's internal/daemon package: a net.Listener over a
// filesystem socket, one newline-delimited JSON decode/encode loop per
// accepted connection, and a liveness-probe-gated stale-socket cleanup at
// startup — generalized from aetherflow's ad-hoc {success, result, error}
// envelope to the spec's JSON-RPC 2.0 {jsonrpc, method, params, id} shape
// and its reserved −32700/−32600/−32601/−32603 error codes.
package controlserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/config"
	"github.com/clier/clier/internal/supervisor"
)

// Options configures a Server.
type Options struct {
	SocketPath string
	ConfigPath string
	LogsDir    string
	Logger     *slog.Logger

	// OnShutdownRequest, if set, is invoked asynchronously for every
	// daemon.shutdown request (callers guard against repeats), instead of
	// calling Supervisor.Stop
	// directly — letting the process entrypoint run the full spec §4.10
	// ordering (close this server first, then the Supervisor) rather than
	// stopping processes while the socket is still accepting requests.
	OnShutdownRequest func()
}

// Server accepts connections on a unix socket and dispatches JSON-RPC
// requests against a Supervisor.
type Server struct {
	opts       Options
	logger     *slog.Logger
	supervisor *supervisor.Supervisor
	listener   net.Listener

	wg sync.WaitGroup
}

func New(opts Options, sup *supervisor.Supervisor) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{opts: opts, logger: opts.Logger, supervisor: sup}
}

// Listen performs the stale-socket liveness probe and binds the socket
// with owner-only permissions (spec §4.9). It must be called before
// Serve.
func (s *Server) Listen() error {
	conn, err := net.DialTimeout("unix", s.opts.SocketPath, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return clierr.New(clierr.KindFatal, "Listen", clierr.ErrSocketStillInUse)
	}

	if info, statErr := os.Lstat(s.opts.SocketPath); statErr == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("controlserver: %s exists and is not a socket", s.opts.SocketPath)
		}
		if rmErr := os.Remove(s.opts.SocketPath); rmErr != nil {
			return fmt.Errorf("controlserver: remove stale socket: %w", rmErr)
		}
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("controlserver: stat %s: %w", s.opts.SocketPath, statErr)
	}

	listener, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("controlserver: listen on %s: %w", s.opts.SocketPath, err)
	}
	if err := os.Chmod(s.opts.SocketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("controlserver: chmod %s: %w", s.opts.SocketPath, err)
	}
	s.listener = listener
	return nil
}

// Serve accepts connections until the listener is closed (by Close).
// Each connection is handled on its own goroutine, matching spec §5's
// "parallelism is used for ... each client socket's request read loop".
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Accept fails once Close has closed the listener; that is the
			// normal shutdown path, not a reportable error.
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and waits for every accepted
// connection's handler to return, which happens when its client closes the
// connection or a write fails. It does not forcibly close
// already-accepted connections; in-flight responses are still written,
// matching spec §5's "in-flight control-socket responses are abandoned on
// server shutdown; clients surface a connection-closed error" only once
// the client itself observes EOF after the daemon process exits.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	_ = os.Remove(s.opts.SocketPath)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.dispatchLine(line)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatchLine(line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, clierr.CodeParse, "parse error: "+err.Error())
	}
	if req.Method == "" {
		return errorResponse(req.ID, clierr.CodeInvalidReq, "missing method")
	}
	return s.dispatch(&req)
}

func (s *Server) dispatch(req *Request) *Response {
	resp, err := s.route(req)
	if err != nil {
		s.logger.Debug("control request failed", "method", req.Method, "error", err)
		return errorResponse(req.ID, clierr.RPCCode(err), err.Error())
	}
	return result(req.ID, resp)
}

func (s *Server) reloadConfig(restartManual bool) error {
	cfg, err := config.LoadAndValidate(s.opts.ConfigPath)
	if err != nil {
		return clierr.New(clierr.KindConfig, "config.reload", err)
	}
	return s.supervisor.Reload(cfg, restartManual)
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return clierr.New(clierr.KindProtocol, "params", fmt.Errorf("invalid params: %w", err))
	}
	return nil
}

func resolveStopTimeout(p stopParams) (time.Duration, error) {
	switch {
	case p.TimeoutMs > 0:
		return time.Duration(p.TimeoutMs) * time.Millisecond, nil
	case p.Timeout != "":
		return parseDuration(p.Timeout)
	default:
		return 0, nil
	}
}

func resolveSinceMs(p logsQueryParams) (int64, error) {
	if p.SinceMs > 0 {
		return p.SinceMs, nil
	}
	if p.Since == "" {
		return 0, nil
	}
	d, err := parseDuration(p.Since)
	if err != nil {
		return 0, err
	}
	return time.Now().Add(-d).UnixMilli(), nil
}
