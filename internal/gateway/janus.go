package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// janusNoSuchSession is the Janus error code for an unknown session id.
const janusNoSuchSession = 458

type JanusOptions struct {
	Enabled   bool
	ServerURL string
	APISecret string
	// STUNServers is a JSON list of {"urls": ...} entries.
	STUNServers    string
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	Timeout        time.Duration
	ICESources     []ICESource
}

// Janus drives the Janus gateway over its plain HTTP transport.
type Janus struct {
	opts     JanusOptions
	stun     []ICEServer
	parseErr error
	http     *resty.Client
	log      *slog.Logger
}

func NewJanus(opts JanusOptions, log *slog.Logger) *Janus {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	stunServers, err := ParseICEServers(opts.STUNServers)
	return &Janus{
		opts:     opts,
		stun:     stunServers,
		parseErr: err,
		http:     resty.New().SetTimeout(opts.Timeout).SetHeader("Content-Type", "application/json"),
		log:      log.With("gateway", "janus"),
	}
}

func (j *Janus) Name() string { return "janus" }

func (j *Janus) Validate() error {
	if !j.opts.Enabled {
		return fmt.Errorf("%w: janus is disabled", ErrConfiguration)
	}
	if !strings.HasPrefix(j.opts.ServerURL, "http://") && !strings.HasPrefix(j.opts.ServerURL, "https://") {
		return fmt.Errorf("%w: janus server url must be http(s), got %q", ErrConfiguration, j.opts.ServerURL)
	}
	if j.parseErr != nil {
		return fmt.Errorf("%w: janus stun servers: %v", ErrConfiguration, j.parseErr)
	}
	return nil
}

type janusReply struct {
	Janus string `json:"janus"`
	Data  struct {
		ID json.Number `json:"id"`
	} `json:"data"`
	Error *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (j *Janus) request(ctx context.Context, url string, verb string) (janusReply, error) {
	body := map[string]string{"janus": verb, "transaction": uuid.NewString()}
	if j.opts.APISecret != "" {
		body["apisecret"] = j.opts.APISecret
	}
	var out janusReply
	resp, err := j.http.R().SetContext(ctx).ForceContentType("application/json").SetBody(body).SetResult(&out).Post(url)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("status %d", resp.StatusCode())
	}
	return out, nil
}

// CreateSession opens a Janus session only; the browser attaches its own
// plugin handle through the signaling url. A create whose reply is lost leaves
// no id to destroy, and Janus reaps the session once its keepalive timeout passes.
func (j *Janus) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDescriptor, error) {
	out, err := j.request(ctx, j.opts.ServerURL, "create")
	if err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: janus create: %v", ErrUnavailable, err)
	}
	if out.Error != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: janus create: %d %s", ErrUnavailable, out.Error.Code, out.Error.Reason)
	}
	if out.Data.ID == "" {
		return SessionDescriptor{}, fmt.Errorf("%w: janus create: no session id", ErrUnavailable)
	}
	return SessionDescriptor{
		GatewaySessionID: out.Data.ID.String(),
		ICEServers:       j.GetICEServers(ctx),
		SignalingURL:     j.opts.ServerURL,
	}, nil
}

// GetICEServers is the configured STUN list plus the TURN entry when its url,
// username and credential are all set.
func (j *Janus) GetICEServers(ctx context.Context) []ICEServer {
	static := cloneICE(j.stun)
	if j.opts.TURNURL != "" && j.opts.TURNUsername != "" && j.opts.TURNCredential != "" {
		static = append(static, ICEServer{
			URLs:       []string{j.opts.TURNURL},
			Username:   j.opts.TURNUsername,
			Credential: j.opts.TURNCredential,
		})
	}
	sources := append([]ICESource{StaticICE(static)}, j.opts.ICESources...)
	return ResolveICE(ctx, j.log, MaxICEDiscovery, static, sources...)
}

func (j *Janus) TeardownSession(ctx context.Context, sessionID, reason string) (bool, error) {
	out, err := j.request(ctx, j.opts.ServerURL+"/"+sessionID, "destroy")
	if err != nil {
		return false, fmt.Errorf("%w: janus destroy: %v", ErrUnavailable, err)
	}
	if out.Error != nil && out.Error.Code != janusNoSuchSession {
		return false, fmt.Errorf("%w: janus destroy: %d %s", ErrUnavailable, out.Error.Code, out.Error.Reason)
	}
	return true, nil
}

// GetQuality is not exposed by the Janus HTTP transport.
func (j *Janus) GetQuality(ctx context.Context, sessionID string) (*QualitySample, error) {
	return nil, nil
}
