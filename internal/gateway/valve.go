package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// valveFallbackICE is returned when the gateway's ICE endpoint cannot be reached.
var valveFallbackICE = []ICEServer{
	{URLs: []string{"stun:stun.valve.yourcompany.com:443"}},
	{URLs: []string{"turn:turn.valve.yourcompany.com:443"}, Username: "webrtc_user", Credential: "webrtc_pass"},
}

type ValveOptions struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Extra ICE sources merged ahead of the gateway's list, e.g. Twilio TURN.
	ICESources []ICESource
}

// Valve talks to the Valve WebRTC gateway over its REST API.
type Valve struct {
	opts ValveOptions
	http *resty.Client
	log  *slog.Logger
}

func NewValve(opts ValveOptions, log *slog.Logger) *Valve {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetAuthToken(opts.APIKey).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Valve{opts: opts, http: c, log: log.With("gateway", "valve")}
}

func (v *Valve) Name() string { return "valve" }

// req decodes replies as JSON whatever content type the gateway sends.
func (v *Valve) req(ctx context.Context) *resty.Request {
	return v.http.R().SetContext(ctx).ForceContentType("application/json")
}

func (v *Valve) Validate() error {
	if !v.opts.Enabled {
		return fmt.Errorf("%w: valve is disabled", ErrConfiguration)
	}
	if v.opts.BaseURL == "" || v.opts.APIKey == "" {
		return fmt.Errorf("%w: valve base url and api key are required", ErrConfiguration)
	}
	return nil
}

type valveCreateBody struct {
	SessionID string `json:"session_id"`
	Caller    struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"caller"`
	Callee struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"callee"`
	Features struct {
		Recording     bool `json:"recording"`
		Transcription bool `json:"transcription"`
		Analytics     bool `json:"analytics"`
	} `json:"features"`
	QualitySettings struct {
		Codec      string `json:"codec"`
		Bitrate    int    `json:"bitrate"`
		SampleRate int    `json:"sample_rate"`
	} `json:"quality_settings"`
}

type valveCreateResponse struct {
	SessionID    string      `json:"session_id"`
	ICEServers   []ICEServer `json:"ice_servers"`
	SessionToken string      `json:"session_token"`
	SignalingURL string      `json:"signaling_url"`
}

func (v *Valve) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDescriptor, error) {
	var body valveCreateBody
	body.SessionID = req.SessionID
	body.Caller.ID, body.Caller.Type = req.CallerID, "agent"
	body.Callee.ID, body.Callee.Type = req.CalleeID, "whatsapp"
	body.Features.Recording = req.Recording
	body.Features.Transcription = req.Transcription
	body.Features.Analytics = true
	body.QualitySettings.Codec = "opus"
	body.QualitySettings.Bitrate = 32000
	body.QualitySettings.SampleRate = 48000

	var out valveCreateResponse
	resp, err := v.req(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/session/create")
	if err != nil {
		// The request may have reached the gateway before the reply was lost.
		rollbackCreate(ctx, v.log, req.SessionID, v.TeardownSession)
		return SessionDescriptor{}, fmt.Errorf("%w: valve create: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= http.StatusInternalServerError {
			rollbackCreate(ctx, v.log, req.SessionID, v.TeardownSession)
		}
		return SessionDescriptor{}, fmt.Errorf("%w: valve create: status %d: %s", ErrUnavailable, resp.StatusCode(), resp.String())
	}

	id := out.SessionID
	if id == "" {
		id = req.SessionID
	}
	ice := out.ICEServers
	if len(ice) == 0 {
		ice = v.GetICEServers(ctx)
	}
	return SessionDescriptor{
		GatewaySessionID: id,
		ICEServers:       ice,
		SignalingURL:     out.SignalingURL,
		SignalingToken:   out.SessionToken,
		RecordingCapable: true,
	}, nil
}

// GetICEServers asks the gateway, then falls back to the static Valve set.
func (v *Valve) GetICEServers(ctx context.Context) []ICEServer {
	sources := append([]ICESource{}, v.opts.ICESources...)
	sources = append(sources, valveICESource{v})
	return ResolveICE(ctx, v.log, v.opts.Timeout, valveFallbackICE, sources...)
}

type valveICESource struct{ v *Valve }

func (s valveICESource) ICEServers(ctx context.Context) ([]ICEServer, error) {
	var out struct {
		ICEServers []ICEServer `json:"ice_servers"`
	}
	resp, err := s.v.req(ctx).SetResult(&out).Get("/api/v1/ice-servers")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("valve ice servers: status %d", resp.StatusCode())
	}
	return out.ICEServers, nil
}

func (v *Valve) TeardownSession(ctx context.Context, sessionID, reason string) (bool, error) {
	resp, err := v.req(ctx).
		SetBody(map[string]string{"session_id": sessionID, "end_reason": reason}).
		Post("/api/v1/session/end")
	if err != nil {
		return false, fmt.Errorf("%w: valve end: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone {
		return true, nil
	}
	if resp.IsError() {
		return false, fmt.Errorf("%w: valve end: status %d", ErrUnavailable, resp.StatusCode())
	}
	return true, nil
}

func (v *Valve) GetQuality(ctx context.Context, sessionID string) (*QualitySample, error) {
	var out QualitySample
	resp, err := v.req(ctx).
		SetPathParam("id", sessionID).
		SetResult(&out).
		Get("/api/v1/session/{id}/quality")
	if err != nil {
		return nil, fmt.Errorf("valve quality: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("valve quality: status %d", resp.StatusCode())
	}
	if out.Empty() {
		return nil, nil
	}
	return &out, nil
}

func (v *Valve) StartRecording(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		RecordingURL string `json:"recording_url"`
	}
	resp, err := v.req(ctx).
		SetBody(map[string]string{
			"session_id": sessionID,
			"action":     "start_recording",
			"format":     "mp3",
			"quality":    "high",
		}).
		SetResult(&out).
		Post("/api/v1/recording/start")
	if err != nil {
		return "", fmt.Errorf("valve recording start: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("valve recording start: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.RecordingURL, nil
}

func (v *Valve) StopRecording(ctx context.Context, sessionID string) error {
	resp, err := v.req(ctx).
		SetBody(map[string]string{"session_id": sessionID, "action": "stop_recording"}).
		Post("/api/v1/recording/stop")
	if err != nil {
		return fmt.Errorf("valve recording stop: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("valve recording stop: status %d", resp.StatusCode())
	}
	return nil
}
