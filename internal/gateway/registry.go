package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"whatsapp-calling/internal/config"
)

// Deps are the shared clients an adapter may need.
type Deps struct {
	Redis  redis.Cmdable
	Twilio config.TwilioConfig
	Log    *slog.Logger
}

// New activates exactly the backend named by cfg.Backend and validates it.
// Other backends' settings are ignored even when enabled.
func New(ctx context.Context, cfg config.GatewayConfig, deps Deps) (Adapter, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	var sources []ICESource
	if turn := NewTwilioTURN(deps.Twilio.AccountSID, deps.Twilio.AuthToken); turn != nil {
		sources = append(sources, turn)
	}

	var a Adapter
	switch cfg.Backend {
	case "valve":
		a = NewValve(ValveOptions{
			Enabled:    cfg.Valve.Enabled,
			BaseURL:    cfg.Valve.BaseURL,
			APIKey:     cfg.Valve.APIKey,
			Timeout:    cfg.CreateTimeout,
			ICESources: sources,
		}, log)

	case "janus":
		a = NewJanus(JanusOptions{
			Enabled:        cfg.Janus.Enabled,
			ServerURL:      cfg.Janus.ServerURL,
			APISecret:      cfg.Janus.APISecret,
			STUNServers:    cfg.Janus.STUNServers,
			TURNURL:        cfg.Janus.TURNURL,
			TURNUsername:   cfg.Janus.TURNUsername,
			TURNCredential: cfg.Janus.TURNCredential,
			Timeout:        cfg.CreateTimeout,
			ICESources:     sources,
		}, log)

	case "mediasoup":
		ms := cfg.MediaSoup
		m := NewMediaSoup(MediaSoupOptions{
			Enabled:      ms.Enabled,
			SignalingURL: ms.SignalingURL,
			RTCMinPort:   ms.RTCMinPort,
			RTCMaxPort:   ms.RTCMaxPort,
			ICEServers:   ms.ICEServers,
			Codecs:       ms.Codecs,
			Timeout:      cfg.CreateTimeout,
			CheckSTUN:    cfg.STUNCheck,
			CheckTimeout: cfg.STUNCheckTimeout,
			ICESources:   sources,
		}, nil, log)
		if err := m.Validate(); err != nil {
			return nil, err
		}
		// Share the port range across instances when redis is available.
		if deps.Redis != nil {
			rp := NewRedisPortPool(deps.Redis, "", ms.RTCMinPort, ms.RTCMaxPort)
			if err := rp.Init(ctx); err != nil {
				return nil, fmt.Errorf("mediasoup port pool: %w", err)
			}
			m.ports = rp
		}
		a = m

	case "livekit":
		a = NewLiveKit(LiveKitOptions{
			Enabled:    cfg.LiveKit.Enabled,
			ServerURL:  cfg.LiveKit.ServerURL,
			APIKey:     cfg.LiveKit.APIKey,
			APISecret:  cfg.LiveKit.APISecret,
			ICESources: sources,
		}, log)

	default:
		return nil, fmt.Errorf("%w: unknown gateway backend %q", ErrConfiguration, cfg.Backend)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	log.Info("gateway activated", "backend", a.Name())
	return a, nil
}
