package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"
)

// maxDiagnosticBytes bounds the retained stderr tail per process.
const maxDiagnosticBytes = 16 * 1024

// SupervisorConfig describes one transcoder invocation.
type SupervisorConfig struct {
	Logger    *slog.Logger
	SessionID string
	Command   string
	Args      []string

	// Readiness, when non-nil, is the UDP socket bound to the session's
	// video return port. The first inbound datagram confirms the remote
	// endpoint is receiving and resolves the start exactly once. The
	// socket must be bound before Spawn so no datagram is lost.
	Readiness    *net.UDPConn
	ReadyTimeout time.Duration

	// CaptureStdout accumulates stdout as opaque binary; used only for the
	// one-shot snapshot path.
	CaptureStdout bool

	Debug     bool
	StopGrace time.Duration

	// OnStart is invoked at most once: with nil once readiness is
	// confirmed (or the bounded timeout elapses with the process still
	// alive), or with an error if the process exits first.
	OnStart func(error)
	// OnExit is invoked exactly once after the process has exited,
	// regardless of how it ended.
	OnExit func(error)
}

// Supervisor owns the lifecycle of one external transcoder process: spawn,
// readiness detection, diagnostic capture, and graceful or forced
// termination.
type Supervisor struct {
	logger    *slog.Logger
	sessionID string
	cmd       *exec.Cmd
	debug     bool
	stopGrace time.Duration

	readiness *net.UDPConn
	startOnce sync.Once
	onStart   func(error)

	done chan struct{}

	mu            sync.Mutex
	diagnostics   []byte
	stdout        bytes.Buffer
	exitErr       error
	stopRequested bool
}

// Spawn starts the transcoder with the current environment and begins
// supervising it. A failure to start is reported as ProcessSpawnError; once
// Spawn returns nil the process is running and OnExit is guaranteed to fire.
func Spawn(cfg SupervisorConfig) (*Supervisor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()

	s := &Supervisor{
		logger:    logger,
		sessionID: cfg.SessionID,
		cmd:       cmd,
		debug:     cfg.Debug,
		stopGrace: cfg.StopGrace,
		readiness: cfg.Readiness,
		onStart:   cfg.OnStart,
		done:      make(chan struct{}),
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessSpawnError{Path: cfg.Command, Err: err}
	}
	var stdout io.ReadCloser
	if cfg.CaptureStdout {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, &ProcessSpawnError{Path: cfg.Command, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessSpawnError{Path: cfg.Command, Err: err}
	}

	var streams sync.WaitGroup
	streams.Add(1)
	go func() {
		defer streams.Done()
		s.consumeStderr(stderr)
	}()
	if stdout != nil {
		streams.Add(1)
		go func() {
			defer streams.Done()
			s.consumeStdout(stdout)
		}()
	}

	if s.readiness != nil {
		go s.awaitReadiness(cfg.ReadyTimeout)
	}

	go func() {
		streams.Wait()
		err := cmd.Wait()

		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()

		if s.readiness != nil {
			_ = s.readiness.Close()
		}
		s.finishStart(&ProcessRuntimeError{
			SessionID:   s.sessionID,
			Err:         exitReason(err),
			Diagnostics: s.Diagnostics(),
		})
		close(s.done)
		if cfg.OnExit != nil {
			cfg.OnExit(err)
		}
	}()

	return s, nil
}

// awaitReadiness blocks on the return-path socket until the first datagram
// arrives, the bounded timeout elapses, or the socket is closed by the exit
// path.
func (s *Supervisor) awaitReadiness(timeout time.Duration) {
	if timeout > 0 {
		_ = s.readiness.SetReadDeadline(time.Now().Add(timeout))
	}
	buf := make([]byte, 2048)
	_, _, err := s.readiness.ReadFromUDP(buf)
	switch {
	case err == nil:
		_ = s.readiness.Close()
		s.finishStart(nil)
	case os.IsTimeout(err):
		// No confirmation within the window. The process is still alive
		// (exit would have closed the socket), so fall back to treating
		// the stream as started rather than hanging forever.
		s.logger.Warn("no return-path confirmation before deadline, assuming stream started",
			"session_id", s.sessionID, "timeout", timeout)
		_ = s.readiness.Close()
		s.finishStart(nil)
	default:
		// Socket closed by the exit path; that path resolves the start.
	}
}

func (s *Supervisor) finishStart(err error) {
	s.startOnce.Do(func() {
		if s.onStart != nil {
			s.onStart(err)
		}
	})
}

// consumeStderr scans diagnostic lines, classifying them for log severity.
// Content never terminates the supervisor; only process exit does.
func (s *Supervisor) consumeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.appendDiagnostics(line)
		if fatalLine(line) {
			s.logger.Error("transcoder error output", "session_id", s.sessionID, "line", string(line))
		} else if s.debug {
			s.logger.Debug("transcoder output", "session_id", s.sessionID, "line", string(line))
		}
	}
}

func (s *Supervisor) consumeStdout(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.stdout.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) appendDiagnostics(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, line...)
	s.diagnostics = append(s.diagnostics, '\n')
	if len(s.diagnostics) > maxDiagnosticBytes {
		s.diagnostics = s.diagnostics[len(s.diagnostics)-maxDiagnosticBytes:]
	}
}

// fatalLine reports whether a diagnostic line carries a known fatal-error
// marker: an explicit error token at line start.
func fatalLine(line []byte) bool {
	lower := bytes.ToLower(line)
	return bytes.HasPrefix(lower, []byte("error")) || bytes.HasPrefix(lower, []byte("fatal"))
}

// Diagnostics returns the retained tail of the process's stderr output.
func (s *Supervisor) Diagnostics() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.diagnostics)
}

// Output returns the accumulated stdout bytes; meaningful only when the
// supervisor was spawned with CaptureStdout.
func (s *Supervisor) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.stdout.Len())
	copy(out, s.stdout.Bytes())
	return out
}

// Done is closed once the process has exited and its streams are drained.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// ExitErr returns the process exit error once Done is closed.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// StopRequested reports whether an explicit stop was issued, distinguishing
// expected termination from an abnormal exit.
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// Stop requests graceful termination and escalates to a forced kill after the
// grace period. It returns once the process has exited or the kill deadline
// passed, and is safe to call repeatedly and after exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	alreadyRequested := s.stopRequested
	s.stopRequested = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	if !alreadyRequested {
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			// The process may have exited between the check and the
			// signal; escalate immediately otherwise.
			s.logger.Debug("interrupt transcoder", "session_id", s.sessionID, "error", err)
		}
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.stopGrace):
	}

	s.logger.Warn("transcoder did not exit after interrupt, killing", "session_id", s.sessionID)
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Debug("kill transcoder", "session_id", s.sessionID, "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(s.stopGrace):
		return &ProcessRuntimeError{SessionID: s.sessionID, Err: errKillDeadline}
	}
	return nil
}

var errKillDeadline = errors.New("transcoder did not exit after kill")

func exitReason(err error) error {
	if err == nil {
		return errors.New("transcoder exited before the stream was confirmed")
	}
	return err
}
