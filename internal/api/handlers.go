package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"camlink/internal/observability/logging"
	"camlink/internal/stream"
)

// Handler fronts the per-camera session managers over HTTP.
type Handler struct {
	Cameras map[string]*stream.Manager
	Logger  *slog.Logger

	// StartTimeout bounds how long a start request may wait for stream
	// confirmation before the request is abandoned. When zero it is
	// derived from the camera's readiness window so the start can still
	// resolve through the timeout fallback.
	StartTimeout time.Duration
}

// NewHandler wires the handler to the camera managers.
func NewHandler(cameras map[string]*stream.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Cameras: cameras,
		Logger:  logger,
	}
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Active    int    `json:"activeSessions"`
	Pending   int    `json:"pendingSessions"`
}

// Health reports per-camera session counts alongside an overall status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	components := make([]componentStatus, 0, len(h.Cameras))
	for name, mgr := range h.Cameras {
		components = append(components, componentStatus{
			Component: name,
			Status:    "ok",
			Active:    mgr.ActiveSessions(),
			Pending:   mgr.PendingSessions(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"cameras": components,
	})
}

// CameraResource routes everything under /v1/cameras/. The subtree is:
//
//	POST   /v1/cameras/{camera}/sessions                  setup
//	POST   /v1/cameras/{camera}/sessions/{id}/start       start
//	POST   /v1/cameras/{camera}/sessions/{id}/reconfigure acknowledge
//	DELETE /v1/cameras/{camera}/sessions/{id}             stop
//	GET    /v1/cameras/{camera}/snapshot                  still image
func (h *Handler) CameraResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/cameras/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) < 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	mgr, ok := h.Cameras[segments[0]]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown camera %q", segments[0]))
		return
	}
	ctx := logging.ContextWithCamera(r.Context(), segments[0])
	r = r.WithContext(ctx)

	switch {
	case len(segments) == 2 && segments[1] == "snapshot":
		h.snapshot(w, r, mgr)
	case len(segments) == 2 && segments[1] == "sessions":
		h.createSession(w, r, mgr)
	case len(segments) == 3 && segments[1] == "sessions":
		h.sessionByID(w, r, mgr, segments[2])
	case len(segments) == 4 && segments[1] == "sessions":
		h.sessionAction(w, r, mgr, segments[2], segments[3])
	default:
		http.NotFound(w, r)
	}
}

type mediaTransportPayload struct {
	Port        int    `json:"port"`
	CryptoSuite string `json:"cryptoSuite"`
	Key         string `json:"key"`
	Salt        string `json:"salt"`
}

func (p mediaTransportPayload) toCrypto() (stream.MediaCrypto, error) {
	key, err := base64.StdEncoding.DecodeString(p.Key)
	if err != nil {
		return stream.MediaCrypto{}, fmt.Errorf("decode key: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return stream.MediaCrypto{}, fmt.Errorf("decode salt: %w", err)
	}
	return stream.MediaCrypto{Suite: p.CryptoSuite, Key: key, Salt: salt}, nil
}

func cryptoPayload(c stream.MediaCrypto, port int) mediaTransportPayload {
	return mediaTransportPayload{
		Port:        port,
		CryptoSuite: c.Suite,
		Key:         base64.StdEncoding.EncodeToString(c.Key),
		Salt:        base64.StdEncoding.EncodeToString(c.Salt),
	}
}

type setupRequestPayload struct {
	SessionID     string                `json:"sessionId"`
	Address       string                `json:"address"`
	AddressFamily string                `json:"addressFamily"`
	Video         mediaTransportPayload `json:"video"`
	Audio         mediaTransportPayload `json:"audio"`
}

type setupResponsePayload struct {
	Address         string                `json:"address"`
	VideoReturnPort int                   `json:"videoReturnPort"`
	AudioReturnPort int                   `json:"audioReturnPort"`
	VideoSSRC       uint32                `json:"videoSSRC"`
	AudioSSRC       uint32                `json:"audioSSRC"`
	Video           mediaTransportPayload `json:"video"`
	Audio           mediaTransportPayload `json:"audio"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, mgr *stream.Manager) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	var payload setupRequestPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if strings.TrimSpace(payload.SessionID) == "" || strings.TrimSpace(payload.Address) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sessionId and address are required"))
		return
	}

	family := stream.FamilyIPv4
	switch strings.ToLower(strings.TrimSpace(payload.AddressFamily)) {
	case "", "ipv4", "v4":
	case "ipv6", "v6":
		family = stream.FamilyIPv6
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address family %q", payload.AddressFamily))
		return
	}

	videoCrypto, err := payload.Video.toCrypto()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video crypto: %w", err))
		return
	}
	audioCrypto, err := payload.Audio.toCrypto()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("audio crypto: %w", err))
		return
	}

	resp, err := mgr.Setup(stream.SetupRequest{
		SessionID: payload.SessionID,
		Address:   payload.Address,
		Family:    family,
		VideoPort: payload.Video.Port,
		AudioPort: payload.Audio.Port,
		Video:     videoCrypto,
		Audio:     audioCrypto,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, setupResponsePayload{
		Address:         resp.Address,
		VideoReturnPort: resp.VideoReturnPort,
		AudioReturnPort: resp.AudioReturnPort,
		VideoSSRC:       resp.VideoSSRC,
		AudioSSRC:       resp.AudioSSRC,
		Video:           cryptoPayload(resp.Video, resp.VideoReturnPort),
		Audio:           cryptoPayload(resp.Audio, resp.AudioReturnPort),
	})
}

func (h *Handler) sessionByID(w http.ResponseWriter, r *http.Request, mgr *stream.Manager, sessionID string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if err := mgr.Stop(sessionID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startRequestPayload struct {
	Video struct {
		Width       int `json:"width"`
		Height      int `json:"height"`
		FPS         int `json:"fps"`
		MaxBitrate  int `json:"maxBitrate"`
		PayloadType int `json:"payloadType"`
	} `json:"video"`
	Audio struct {
		SampleRate  int `json:"sampleRate"`
		MaxBitrate  int `json:"maxBitrate"`
		PayloadType int `json:"payloadType"`
	} `json:"audio"`
}

func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request, mgr *stream.Manager, sessionID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	switch action {
	case "start":
		var payload startRequestPayload
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.startTimeout(mgr))
		defer cancel()

		err := mgr.Start(ctx, stream.StartRequest{
			SessionID: sessionID,
			Video: stream.VideoParams{
				Width:       payload.Video.Width,
				Height:      payload.Video.Height,
				FPS:         payload.Video.FPS,
				MaxBitrate:  payload.Video.MaxBitrate,
				PayloadType: payload.Video.PayloadType,
			},
			Audio: stream.AudioParams{
				SampleRate:  payload.Audio.SampleRate,
				MaxBitrate:  payload.Audio.MaxBitrate,
				PayloadType: payload.Audio.PayloadType,
			},
		})
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "streaming"})
	case "reconfigure":
		if err := mgr.Reconfigure(sessionID); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request, mgr *stream.Manager) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	width := queryInt(r, "width", 1280)
	height := queryInt(r, "height", 720)

	image, err := mgr.Snapshot(r.Context(), width, height)
	if err != nil {
		logging.WithContext(r.Context(), h.Logger).Error("snapshot failed", "error", err)
		writeError(w, statusForError(err), err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

// startTimeout leaves room past the readiness window so an unconfirmed start
// resolves through the manager's fallback rather than a context deadline.
func (h *Handler) startTimeout(mgr *stream.Manager) time.Duration {
	if h.StartTimeout > 0 {
		return h.StartTimeout
	}
	return mgr.ReadyTimeout() + 5*time.Second
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// statusForError maps stream-layer failures onto control API status codes.
func statusForError(err error) int {
	var addrErr *stream.AddressResolutionError
	var portErr *stream.PortAllocationError
	var spawnErr *stream.ProcessSpawnError
	var snapErr *stream.SnapshotError

	switch {
	case errors.Is(err, stream.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, stream.ErrTooManyStreams):
		return http.StatusConflict
	case errors.As(err, &addrErr), errors.As(err, &portErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &spawnErr):
		return http.StatusBadGateway
	case errors.As(err, &snapErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
