package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type MediaSoupOptions struct {
	Enabled      bool
	SignalingURL string
	RTCMinPort   int
	RTCMaxPort   int
	// ICEServers is a JSON list of {"urls", "username", "credential"} entries.
	ICEServers string
	// Codecs is a comma separated preference list, e.g. "opus,PCMU".
	Codecs  string
	Timeout time.Duration
	// CheckSTUN filters the configured STUN servers down to reachable ones.
	CheckSTUN    bool
	CheckTimeout time.Duration
	ICESources   []ICESource
}

// MediaSoup reserves an RTP/RTCP pair per call and asks the mediasoup
// signaling server, over a websocket, to open a transport on it.
type MediaSoup struct {
	opts     MediaSoupOptions
	ice      []ICEServer
	iceBase  ICESource
	parseErr error
	ports    PortPool
	dialer   *websocket.Dialer
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]PortPair
}

func NewMediaSoup(opts MediaSoupOptions, ports PortPool, log *slog.Logger) *MediaSoup {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if ports == nil {
		ports = NewMemoryPortPool(opts.RTCMinPort, opts.RTCMaxPort)
	}
	ice, err := ParseICEServers(opts.ICEServers)
	var base ICESource = StaticICE(ice)
	if opts.CheckSTUN && len(ice) > 0 {
		base = NewSTUNCheck(ice, opts.CheckTimeout)
	}
	return &MediaSoup{
		opts:     opts,
		ice:      ice,
		iceBase:  base,
		parseErr: err,
		ports:    ports,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.Timeout},
		log:      log.With("gateway", "mediasoup"),
		sessions: map[string]PortPair{},
	}
}

func (m *MediaSoup) Name() string { return "mediasoup" }

func (m *MediaSoup) Validate() error {
	if !m.opts.Enabled {
		return fmt.Errorf("%w: mediasoup is disabled", ErrConfiguration)
	}
	if !strings.HasPrefix(m.opts.SignalingURL, "ws://") && !strings.HasPrefix(m.opts.SignalingURL, "wss://") {
		return fmt.Errorf("%w: mediasoup signaling url must be ws(s), got %q", ErrConfiguration, m.opts.SignalingURL)
	}
	if m.opts.RTCMinPort >= m.opts.RTCMaxPort {
		return fmt.Errorf("%w: rtc min port must be less than rtc max port", ErrConfiguration)
	}
	if m.opts.RTCMaxPort-m.opts.RTCMinPort < 50 {
		return fmt.Errorf("%w: rtc port range should be at least 50 ports", ErrConfiguration)
	}
	if m.parseErr != nil {
		return fmt.Errorf("%w: mediasoup ice servers: %v", ErrConfiguration, m.parseErr)
	}
	return nil
}

type signalMessage struct {
	Action    string   `json:"action"`
	RequestID string   `json:"request_id"`
	SessionID string   `json:"session_id"`
	CallerID  string   `json:"caller_id,omitempty"`
	CalleeID  string   `json:"callee_id,omitempty"`
	RTPPort   int      `json:"rtp_port,omitempty"`
	RTCPPort  int      `json:"rtcp_port,omitempty"`
	Codecs    []string `json:"codecs,omitempty"`
	Recording bool     `json:"recording,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

type signalReply struct {
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Token     string         `json:"token,omitempty"`
	RTPPort   int            `json:"rtp_port,omitempty"`
	Stats     *QualitySample `json:"stats,omitempty"`
}

var (
	errSignalNotFound = errors.New("mediasoup: session not found")
	// errSignalRejected: the server answered and refused the request.
	errSignalRejected = errors.New("mediasoup: request rejected")
	// errSignalDial: the request never left this process.
	errSignalDial = errors.New("mediasoup: dial failed")
)

// roundTrip sends one request on a fresh connection and waits for its reply.
func (m *MediaSoup) roundTrip(ctx context.Context, msg signalMessage) (signalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	conn, _, err := m.dialer.DialContext(ctx, m.opts.SignalingURL, nil)
	if err != nil {
		return signalReply{}, fmt.Errorf("%w: %v", errSignalDial, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	msg.RequestID = uuid.NewString()
	if err := conn.WriteJSON(msg); err != nil {
		return signalReply{}, err
	}
	for {
		var reply signalReply
		if err := conn.ReadJSON(&reply); err != nil {
			return signalReply{}, err
		}
		// Skip unsolicited notifications.
		if reply.RequestID != "" && reply.RequestID != msg.RequestID {
			continue
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if !reply.OK {
			if reply.Error == "not_found" {
				return reply, errSignalNotFound
			}
			return reply, fmt.Errorf("%w: %s: %s", errSignalRejected, msg.Action, reply.Error)
		}
		return reply, nil
	}
}

func (m *MediaSoup) codecs() []string {
	if m.opts.Codecs == "" {
		return []string{"opus"}
	}
	var out []string
	for _, c := range strings.Split(m.opts.Codecs, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (m *MediaSoup) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDescriptor, error) {
	pair, err := m.ports.Acquire(ctx)
	if err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, err := m.roundTrip(ctx, signalMessage{
		Action:    "create-session",
		SessionID: req.SessionID,
		CallerID:  req.CallerID,
		CalleeID:  req.CalleeID,
		RTPPort:   pair.RTP,
		RTCPPort:  pair.RTCP,
		Codecs:    m.codecs(),
		Recording: req.Recording,
	})
	if err != nil {
		m.rollbackCreate(ctx, req.SessionID, pair, err)
		return SessionDescriptor{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	id := reply.SessionID
	if id == "" {
		id = req.SessionID
	}
	m.mu.Lock()
	m.sessions[id] = pair
	m.mu.Unlock()

	return SessionDescriptor{
		GatewaySessionID: id,
		ICEServers:       m.GetICEServers(ctx),
		SignalingURL:     m.opts.SignalingURL,
		SignalingToken:   reply.Token,
	}, nil
}

// rollbackCreate closes a transport the server may have opened before its
// reply was lost, then returns the ports to the pool.
func (m *MediaSoup) rollbackCreate(ctx context.Context, sessionID string, pair PortPair, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RollbackTimeout)
	defer cancel()
	if !errors.Is(cause, errSignalRejected) && !errors.Is(cause, errSignalDial) {
		_, err := m.roundTrip(rctx, signalMessage{Action: "close-session", SessionID: sessionID, Reason: "create_failed"})
		if err != nil && !errors.Is(err, errSignalNotFound) {
			m.log.Warn("create rollback failed", "session_id", sessionID, "err", err)
		}
	}
	if err := m.ports.Release(rctx, pair); err != nil {
		m.log.Error("rtp port rollback failed", "rtp_port", pair.RTP, "err", err)
	}
}

func (m *MediaSoup) GetICEServers(ctx context.Context) []ICEServer {
	sources := append([]ICESource{m.iceBase}, m.opts.ICESources...)
	return ResolveICE(ctx, m.log, MaxICEDiscovery, m.ice, sources...)
}

func (m *MediaSoup) TeardownSession(ctx context.Context, sessionID, reason string) (bool, error) {
	m.mu.Lock()
	pair, local := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	reply, err := m.roundTrip(ctx, signalMessage{Action: "close-session", SessionID: sessionID, Reason: reason})
	if err != nil && !errors.Is(err, errSignalNotFound) {
		if local {
			m.mu.Lock()
			m.sessions[sessionID] = pair
			m.mu.Unlock()
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Sessions created by another instance are released by the port the server reports.
	if !local && reply.RTPPort > 0 {
		pair = PortPair{RTP: reply.RTPPort, RTCP: reply.RTPPort + 1}
		local = true
	}
	if local {
		if rerr := m.ports.Release(ctx, pair); rerr != nil {
			m.log.Error("rtp port release failed", "session_id", sessionID, "rtp_port", pair.RTP, "err", rerr)
		}
	}
	return true, nil
}

func (m *MediaSoup) GetQuality(ctx context.Context, sessionID string) (*QualitySample, error) {
	reply, err := m.roundTrip(ctx, signalMessage{Action: "get-stats", SessionID: sessionID})
	if errors.Is(err, errSignalNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if reply.Stats.Empty() {
		return nil, nil
	}
	return reply.Stats, nil
}
