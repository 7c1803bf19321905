package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ICEServer is one STUN/TURN entry handed to the browser.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts "urls" (string or list) and the legacy "url" key.
func (s *ICEServer) UnmarshalJSON(b []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		URL        string          `json:"url"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil

	if len(raw.URLs) > 0 {
		var one string
		if err := json.Unmarshal(raw.URLs, &one); err == nil {
			s.URLs = []string{one}
		} else {
			var many []string
			if err := json.Unmarshal(raw.URLs, &many); err != nil {
				return fmt.Errorf("ice server urls: %w", err)
			}
			s.URLs = many
		}
	}
	if len(s.URLs) == 0 && raw.URL != "" {
		s.URLs = []string{raw.URL}
	}
	return nil
}

// DefaultSTUN is the last-resort set when nothing else is configured.
var DefaultSTUN = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// ParseICEServers decodes a JSON list of ICE servers and checks every URL scheme.
func ParseICEServers(raw string) ([]ICEServer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []ICEServer
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("ice servers must be a JSON list: %w", err)
	}
	for i, s := range out {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("ice server %d: urls is required", i)
		}
		for _, u := range s.URLs {
			if !validICEScheme(u) {
				return nil, fmt.Errorf("ice server %d: unsupported url %q", i, u)
			}
		}
	}
	return out, nil
}

func validICEScheme(u string) bool {
	for _, p := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

func cloneICE(in []ICEServer) []ICEServer {
	out := make([]ICEServer, len(in))
	for i, s := range in {
		out[i] = ICEServer{URLs: append([]string(nil), s.URLs...), Username: s.Username, Credential: s.Credential}
	}
	return out
}

// ICESource discovers ICE servers, possibly over the network.
type ICESource interface {
	ICEServers(ctx context.Context) ([]ICEServer, error)
}

// StaticICE answers from configuration without touching the network.
type StaticICE []ICEServer

func (s StaticICE) ICEServers(context.Context) ([]ICEServer, error) {
	return cloneICE(s), nil
}

// MaxICEDiscovery caps any network-backed ICE lookup.
const MaxICEDiscovery = 10 * time.Second

// ResolveICE collects servers from sources under a bounded timeout and returns
// fallback when every source fails or yields nothing. It never returns an error.
func ResolveICE(ctx context.Context, log *slog.Logger, timeout time.Duration, fallback []ICEServer, sources ...ICESource) []ICEServer {
	if timeout <= 0 || timeout > MaxICEDiscovery {
		timeout = MaxICEDiscovery
	}
	if len(fallback) == 0 {
		fallback = DefaultSTUN
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []ICEServer
	for _, src := range sources {
		if src == nil {
			continue
		}
		servers, err := src.ICEServers(ctx)
		if err != nil {
			if log != nil {
				log.Warn("ice source failed", "err", err)
			}
			continue
		}
		out = append(out, servers...)
	}
	if len(out) == 0 {
		return cloneICE(fallback)
	}
	return out
}

// twilioTokenAPI is the slice of the Twilio REST client used for NTS tokens.
type twilioTokenAPI interface {
	CreateToken(params *twilioapi.CreateTokenParams) (*twilioapi.ApiV2010Token, error)
}

// TwilioTURN fetches TURN credentials from Twilio Network Traversal Service and
// caches them until shortly before they expire.
type TwilioTURN struct {
	api     twilioTokenAPI
	refresh time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	cached    []ICEServer
	fetchedAt time.Time
}

// NewTwilioTURN returns nil when credentials are absent so callers can skip it.
func NewTwilioTURN(accountSID, authToken string) *TwilioTURN {
	if accountSID == "" || authToken == "" {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return newTwilioTURN(client.Api)
}

func newTwilioTURN(api twilioTokenAPI) *TwilioTURN {
	// NTS tokens live 24h by default.
	return &TwilioTURN{api: api, refresh: 23 * time.Hour, now: time.Now}
}

func (t *TwilioTURN) ICEServers(ctx context.Context) ([]ICEServer, error) {
	t.mu.RLock()
	if len(t.cached) > 0 && t.now().Sub(t.fetchedAt) < t.refresh {
		out := cloneICE(t.cached)
		t.mu.RUnlock()
		return out, nil
	}
	t.mu.RUnlock()

	type result struct {
		tok *twilioapi.ApiV2010Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := t.api.CreateToken(&twilioapi.CreateTokenParams{})
		ch <- result{tok, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("twilio token: %w", ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("twilio token: %w", res.err)
	}
	if res.tok == nil || res.tok.IceServers == nil {
		return nil, errors.New("twilio token: no ice servers")
	}

	var servers []ICEServer
	for _, s := range *res.tok.IceServers {
		u := s.Urls
		if u == "" {
			u = s.Url
		}
		if u == "" {
			continue
		}
		servers = append(servers, ICEServer{URLs: []string{u}, Username: s.Username, Credential: s.Credential})
	}
	if len(servers) == 0 {
		return nil, errors.New("twilio token: no ice servers")
	}

	t.mu.Lock()
	t.cached = servers
	t.fetchedAt = t.now()
	t.mu.Unlock()
	return cloneICE(servers), nil
}

// STUNCheck keeps only the STUN servers that answer a binding request.
// TURN entries pass through unchecked. When no STUN server answers the check
// fails so ResolveICE can fall back.
type STUNCheck struct {
	Servers   []ICEServer
	PerServer time.Duration
	dialer    net.Dialer
}

func NewSTUNCheck(servers []ICEServer, perServer time.Duration) *STUNCheck {
	if perServer <= 0 {
		perServer = 2 * time.Second
	}
	return &STUNCheck{Servers: servers, PerServer: perServer}
}

func (p *STUNCheck) ICEServers(ctx context.Context) ([]ICEServer, error) {
	var (
		out       []ICEServer
		stunAlive int
		lastErr   error
	)
	for _, s := range p.Servers {
		var alive []string
		for _, u := range s.URLs {
			if !strings.HasPrefix(u, "stun:") {
				alive = append(alive, u)
				continue
			}
			if err := p.check(ctx, stunHostPort(u)); err != nil {
				lastErr = err
				continue
			}
			stunAlive++
			alive = append(alive, u)
		}
		if len(alive) > 0 {
			out = append(out, ICEServer{URLs: alive, Username: s.Username, Credential: s.Credential})
		}
	}
	if stunAlive == 0 {
		if lastErr == nil {
			lastErr = errors.New("no stun servers configured")
		}
		return nil, fmt.Errorf("stun check: %w", lastErr)
	}
	return out, nil
}

func (p *STUNCheck) check(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, p.PerServer)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.Write(req.Raw); err != nil {
		return err
	}
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}
	res := new(stun.Message)
	res.Raw = buf[:n]
	if err := res.Decode(); err != nil {
		return err
	}
	if res.Type != stun.BindingSuccess {
		return fmt.Errorf("unexpected stun response %s", res.Type)
	}
	return nil
}

// stunHostPort turns "stun:host:port" or "stun:host" into a dialable address.
func stunHostPort(u string) string {
	hp := strings.TrimPrefix(u, "stun:")
	if i := strings.Index(hp, "?"); i >= 0 {
		hp = hp[:i]
	}
	if _, _, err := net.SplitHostPort(hp); err != nil {
		return net.JoinHostPort(hp, "3478")
	}
	return hp
}
