package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"camlink/internal/config"
	"camlink/internal/observability/metrics"
)

// ManagerConfig wires a session manager to one camera.
type ManagerConfig struct {
	Camera          config.Camera
	FFmpegPath      string
	Interface       string
	ReadyTimeout    time.Duration
	StopGrace       time.Duration
	SnapshotTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
}

// Manager owns the pending and ongoing session tables for one camera and is
// the single entry point for setup, start, reconfigure, stop, snapshot, and
// process-wide shutdown. A session identifier lives in at most one table at
// any time; the tables are mutated only by the Manager, never by supervisors.
type Manager struct {
	cam             config.Camera
	ffmpegPath      string
	iface           string
	readyTimeout    time.Duration
	stopGrace       time.Duration
	snapshotTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics.Recorder

	mu         sync.Mutex
	pending    map[string]*SessionInfo
	ongoing    map[string]*activeSession
	starting   map[string]struct{}
	issuedSSRC map[uint32]struct{}
	shutdown   bool
}

type activeSession struct {
	info *SessionInfo
	sup  *Supervisor
}

// NewManager builds a Manager for the provided camera.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 15 * time.Second
	}
	return &Manager{
		cam:             cfg.Camera,
		ffmpegPath:      cfg.FFmpegPath,
		iface:           cfg.Interface,
		readyTimeout:    cfg.ReadyTimeout,
		stopGrace:       cfg.StopGrace,
		snapshotTimeout: cfg.SnapshotTimeout,
		logger:          logger.With("camera", cfg.Camera.Name),
		metrics:         recorder,
		pending:         make(map[string]*SessionInfo),
		ongoing:         make(map[string]*activeSession),
		starting:        make(map[string]struct{}),
		issuedSSRC:      make(map[uint32]struct{}),
	}
}

// Camera returns the immutable camera configuration backing this manager.
func (m *Manager) Camera() config.Camera { return m.cam }

// ReadyTimeout reports the readiness window applied to start requests.
func (m *Manager) ReadyTimeout() time.Duration { return m.readyTimeout }

// admitLocked checks whether a new session with the given identifier may be
// recorded. Callers hold m.mu. The check runs both before port allocation and
// again at insert time: allocation happens outside the lock, so concurrent
// setups can each pass the first check and must be re-validated before they
// touch the table.
func (m *Manager) admitLocked(sessionID string) error {
	if m.shutdown {
		return fmt.Errorf("manager is shut down")
	}
	if _, exists := m.pending[sessionID]; exists {
		return fmt.Errorf("session %q: %w", sessionID, ErrSessionExists)
	}
	if _, exists := m.ongoing[sessionID]; exists {
		return fmt.Errorf("session %q: %w", sessionID, ErrSessionExists)
	}
	if _, exists := m.starting[sessionID]; exists {
		return fmt.Errorf("session %q: %w", sessionID, ErrSessionExists)
	}
	if len(m.pending)+len(m.ongoing)+len(m.starting) >= m.cam.MaxStreams {
		return fmt.Errorf("camera %q: %w", m.cam.Name, ErrTooManyStreams)
	}
	return nil
}

// Setup allocates the return-path transport for a new session: two ephemeral
// UDP ports, two fresh synchronization sources, and the advertised local
// address. The session is recorded in the pending table until a start request
// promotes it.
func (m *Manager) Setup(req SetupRequest) (SetupResponse, error) {
	if req.SessionID == "" {
		return SetupResponse{}, fmt.Errorf("session identifier is required")
	}

	m.mu.Lock()
	if err := m.admitLocked(req.SessionID); err != nil {
		m.mu.Unlock()
		return SetupResponse{}, err
	}
	m.mu.Unlock()

	address, err := m.resolveAddress(req.Family)
	if err != nil {
		return SetupResponse{}, err
	}

	videoConn, videoPort, err := allocateReturnPort()
	if err != nil {
		return SetupResponse{}, err
	}
	audioConn, audioPort, err := allocateReturnPort()
	if err != nil {
		videoConn.Close()
		return SetupResponse{}, err
	}

	videoSSRC, err := m.uniqueSSRC()
	if err != nil {
		videoConn.Close()
		audioConn.Close()
		return SetupResponse{}, err
	}
	audioSSRC, err := m.uniqueSSRC()
	if err != nil {
		videoConn.Close()
		audioConn.Close()
		return SetupResponse{}, err
	}

	info := &SessionInfo{
		ID:              req.SessionID,
		Address:         req.Address,
		Family:          req.Family,
		VideoPort:       req.VideoPort,
		AudioPort:       req.AudioPort,
		VideoReturnPort: videoPort,
		AudioReturnPort: audioPort,
		VideoSSRC:       videoSSRC,
		AudioSSRC:       audioSSRC,
		Video:           req.Video,
		Audio:           req.Audio,
		videoConn:       videoConn,
		audioConn:       audioConn,
	}

	m.mu.Lock()
	if err := m.admitLocked(req.SessionID); err != nil {
		m.mu.Unlock()
		info.closePorts()
		return SetupResponse{}, err
	}
	m.pending[req.SessionID] = info
	m.mu.Unlock()

	m.metrics.SessionSetup()
	m.logger.Info("session prepared",
		"session_id", req.SessionID,
		"address", address,
		"video_return_port", videoPort,
		"audio_return_port", audioPort)

	return SetupResponse{
		Address:         address,
		VideoReturnPort: videoPort,
		AudioReturnPort: audioPort,
		VideoSSRC:       videoSSRC,
		AudioSSRC:       audioSSRC,
		Video:           req.Video,
		Audio:           req.Audio,
	}, nil
}

// resolveAddress applies the interface fallback policy: a configured
// preferred interface that fails resolution logs a warning and retries
// against the system default; with no preference the failure propagates.
func (m *Manager) resolveAddress(family AddressFamily) (string, error) {
	address, err := ResolveAddress(family, m.iface)
	if err != nil && m.iface != "" {
		m.logger.Warn("address resolution failed on preferred interface, falling back to default",
			"interface", m.iface, "error", err)
		address, err = ResolveAddress(family, "")
	}
	return address, err
}

func (m *Manager) uniqueSSRC() (uint32, error) {
	for {
		ssrc, err := newSSRC()
		if err != nil {
			return 0, err
		}
		m.mu.Lock()
		_, taken := m.issuedSSRC[ssrc]
		if !taken {
			m.issuedSSRC[ssrc] = struct{}{}
		}
		m.mu.Unlock()
		if !taken {
			return ssrc, nil
		}
	}
}

// Start promotes a pending session to ongoing: it negotiates the effective
// resolution and bitrates, builds the transcoder command line, spawns the
// process, and blocks until the stream is confirmed, the readiness window
// elapses, or the process dies. A start with no matching pending entry is
// rejected with ErrSessionNotFound.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	info, err := m.promotePending(req.SessionID)
	if err != nil {
		return err
	}

	res := NegotiateResolution(req.Video.Width, req.Video.Height, m.cam)
	videoBitrate := ClampVideoBitrate(req.Video.MaxBitrate, m.cam)
	audioBitrate := ClampAudioBitrate(req.Audio.MaxBitrate, m.cam)
	args := BuildStreamArgs(m.cam, info, req, res, videoBitrate, audioBitrate)

	started := make(chan error, 1)
	sup, err := Spawn(SupervisorConfig{
		Logger:       m.logger,
		SessionID:    req.SessionID,
		Command:      m.ffmpegPath,
		Args:         args,
		Readiness:    info.videoConn,
		ReadyTimeout: m.readyTimeout,
		Debug:        m.cam.Debug,
		StopGrace:    m.stopGrace,
		OnStart:      func(err error) { started <- err },
		OnExit:       func(err error) { m.handleExit(req.SessionID, err) },
	})
	if err != nil {
		m.abortStart(req.SessionID)
		info.closePorts()
		m.logger.Error("failed to spawn transcoder", "session_id", req.SessionID, "error", err)
		return err
	}

	if !m.registerStarted(req.SessionID, info, sup) {
		// A stop (or shutdown) landed while the process was being spawned;
		// honor it now that the handle exists.
		_ = sup.Stop()
		info.closePorts()
		m.metrics.SessionStopped()
		m.logger.Info("session stopped during start", "session_id", req.SessionID)
		return fmt.Errorf("start session %q: %w", req.SessionID, ErrSessionNotFound)
	}

	// The process may have already exited, in which case its exit handler
	// ran before the session was registered; sweep the entry it missed.
	select {
	case <-sup.Done():
		m.handleExit(req.SessionID, sup.ExitErr())
	default:
	}

	m.logger.Info("transcoder started",
		"session_id", req.SessionID,
		"width", res.Width,
		"height", res.Height,
		"video_bitrate_kbps", videoBitrate)

	select {
	case err := <-started:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		stopErr := m.Stop(req.SessionID)
		if stopErr != nil {
			m.logger.Warn("stop after cancelled start", "session_id", req.SessionID, "error", stopErr)
		}
		return ctx.Err()
	}

	m.metrics.SessionStarted()
	m.logger.Info("stream confirmed", "session_id", req.SessionID)
	return nil
}

// promotePending removes the session from the pending table and marks it
// in-flight so a stop arriving while the transcoder is being spawned is not
// lost.
func (m *Manager) promotePending(sessionID string) (*SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, fmt.Errorf("manager is shut down")
	}
	info, ok := m.pending[sessionID]
	if !ok {
		return nil, fmt.Errorf("start session %q: %w", sessionID, ErrSessionNotFound)
	}
	delete(m.pending, sessionID)
	m.starting[sessionID] = struct{}{}
	return info, nil
}

// registerStarted moves an in-flight session into the ongoing table. It
// reports false when a stop cleared the in-flight marker first; the caller
// then owns terminating the process and releasing the ports.
func (m *Manager) registerStarted(sessionID string, info *SessionInfo, sup *Supervisor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.starting[sessionID]; !ok {
		return false
	}
	delete(m.starting, sessionID)
	m.ongoing[sessionID] = &activeSession{info: info, sup: sup}
	return true
}

func (m *Manager) abortStart(sessionID string) {
	m.mu.Lock()
	delete(m.starting, sessionID)
	m.mu.Unlock()
}

// Reconfigure acknowledges a mid-stream parameter change without applying it.
// The running transcoder keeps its original parameters.
func (m *Manager) Reconfigure(sessionID string) error {
	m.logger.Debug("reconfigure acknowledged without effect", "session_id", sessionID)
	return nil
}

// Stop tears down a session in whichever table holds it. It is idempotent:
// stopping an unknown, never-started, or already-exited session is a no-op.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	if info, ok := m.pending[sessionID]; ok {
		delete(m.pending, sessionID)
		m.mu.Unlock()
		info.closePorts()
		m.logger.Info("pending session discarded", "session_id", sessionID)
		return nil
	}
	if _, ok := m.starting[sessionID]; ok {
		// The start request owns the process handle; clearing the marker
		// makes its registration fail, and it then stops the process and
		// closes the ports itself.
		delete(m.starting, sessionID)
		m.mu.Unlock()
		m.logger.Info("stop recorded for session still starting", "session_id", sessionID)
		return nil
	}
	act, ok := m.ongoing[sessionID]
	if ok {
		delete(m.ongoing, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := act.sup.Stop()
	act.info.closePorts()
	m.metrics.SessionStopped()
	m.logger.Info("session stopped", "session_id", sessionID)
	return err
}

// handleExit runs when a supervised process ends. If the session is still
// marked ongoing no stop was requested, so the exit is abnormal; the entry is
// removed either way.
func (m *Manager) handleExit(sessionID string, exitErr error) {
	m.mu.Lock()
	act, ok := m.ongoing[sessionID]
	if ok {
		delete(m.ongoing, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	act.info.closePorts()
	if act.sup.StopRequested() {
		return
	}

	m.metrics.SessionAborted()
	m.logger.Error("transcoder exited unexpectedly",
		"session_id", sessionID,
		"error", exitErr,
		"diagnostics", act.sup.Diagnostics())
}

// Shutdown stops every ongoing session and discards pending ones. Errors from
// individual sessions are logged and swallowed so one failure cannot block
// the rest; the call is idempotent.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shutdown = true
	ids := make([]string, 0, len(m.pending)+len(m.starting)+len(m.ongoing))
	for id := range m.pending {
		ids = append(ids, id)
	}
	for id := range m.starting {
		ids = append(ids, id)
	}
	for id := range m.ongoing {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			m.logger.Warn("shutdown deadline reached with sessions remaining")
		}
		if err := m.Stop(id); err != nil {
			m.logger.Warn("error stopping session during shutdown", "session_id", id, "error", err)
		}
	}
}

// ActiveSessions reports the number of ongoing sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ongoing)
}

// PendingSessions reports the number of sessions awaiting a start request.
func (m *Manager) PendingSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Snapshot captures a single still image from the camera, scaled to the
// negotiated geometry, by running the transcoder in its one-shot image mode
// and collecting stdout until the process exits.
func (m *Manager) Snapshot(ctx context.Context, width, height int) ([]byte, error) {
	res := NegotiateResolution(width, height, m.cam)
	args := BuildSnapshotArgs(m.cam, res)

	ctx, cancel := context.WithTimeout(ctx, m.snapshotTimeout)
	defer cancel()

	sup, err := Spawn(SupervisorConfig{
		Logger:        m.logger,
		SessionID:     "snapshot",
		Command:       m.ffmpegPath,
		Args:          args,
		CaptureStdout: true,
		Debug:         m.cam.Debug,
		StopGrace:     m.stopGrace,
	})
	if err != nil {
		m.metrics.ObserveSnapshot("spawn_error")
		return nil, &SnapshotError{Err: err}
	}

	select {
	case <-sup.Done():
	case <-ctx.Done():
		_ = sup.Stop()
		m.metrics.ObserveSnapshot("timeout")
		return nil, &SnapshotError{Err: ctx.Err(), Diagnostics: sup.Diagnostics()}
	}

	if exitErr := sup.ExitErr(); exitErr != nil {
		m.metrics.ObserveSnapshot("error")
		return nil, &SnapshotError{Err: exitErr, Diagnostics: sup.Diagnostics()}
	}
	image := sup.Output()
	if len(image) == 0 {
		m.metrics.ObserveSnapshot("empty")
		return nil, &SnapshotError{Err: fmt.Errorf("no image data produced"), Diagnostics: sup.Diagnostics()}
	}

	m.metrics.ObserveSnapshot("ok")
	return image, nil
}
