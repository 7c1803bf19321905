package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
)

type LiveKitOptions struct {
	Enabled   bool
	ServerURL string
	APIKey    string
	APISecret string
	// TokenTTL bounds the agent's room token.
	TokenTTL time.Duration
	// RecordingPrefix is the egress file path prefix, e.g. "recordings/".
	RecordingPrefix string
	ICE             []ICEServer
	ICESources      []ICESource
}

type roomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

type egressService interface {
	StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error)
	ListEgress(ctx context.Context, req *livekit.ListEgressRequest) (*livekit.ListEgressResponse, error)
	StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error)
}

// LiveKit maps each call to an SFU room named after the session id.
type LiveKit struct {
	opts   LiveKitOptions
	rooms  roomService
	egress egressService
	log    *slog.Logger
}

func NewLiveKit(opts LiveKitOptions, log *slog.Logger) *LiveKit {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 2 * time.Hour
	}
	if opts.RecordingPrefix == "" {
		opts.RecordingPrefix = "recordings/"
	}
	if log == nil {
		log = slog.Default()
	}
	return &LiveKit{
		opts:   opts,
		rooms:  lksdk.NewRoomServiceClient(opts.ServerURL, opts.APIKey, opts.APISecret),
		egress: lksdk.NewEgressClient(opts.ServerURL, opts.APIKey, opts.APISecret),
		log:    log.With("gateway", "livekit"),
	}
}

func (l *LiveKit) Name() string { return "livekit" }

func (l *LiveKit) Validate() error {
	if !l.opts.Enabled {
		return fmt.Errorf("%w: livekit is disabled", ErrConfiguration)
	}
	if l.opts.ServerURL == "" || l.opts.APIKey == "" || l.opts.APISecret == "" {
		return fmt.Errorf("%w: livekit server url, api key and secret are required", ErrConfiguration)
	}
	return nil
}

func (l *LiveKit) roomToken(room, identity string) (string, error) {
	at := auth.NewAccessToken(l.opts.APIKey, l.opts.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room}).
		SetIdentity(identity).
		SetValidFor(l.opts.TokenTTL)
	return at.ToJWT()
}

func (l *LiveKit) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionDescriptor, error) {
	room, err := l.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            req.SessionID,
		EmptyTimeout:    300,
		MaxParticipants: 2,
	})
	if err != nil {
		// The room is named after the session, so a room created before the
		// reply was lost can still be found and removed.
		rollbackCreate(ctx, l.log, req.SessionID, l.TeardownSession)
		return SessionDescriptor{}, fmt.Errorf("%w: livekit create room: %v", ErrUnavailable, err)
	}

	token, err := l.roomToken(room.GetName(), req.CallerID)
	if err != nil {
		rollbackCreate(ctx, l.log, room.GetName(), l.TeardownSession)
		return SessionDescriptor{}, fmt.Errorf("%w: livekit token: %v", ErrUnavailable, err)
	}

	return SessionDescriptor{
		GatewaySessionID: room.GetName(),
		ICEServers:       l.GetICEServers(ctx),
		SignalingURL:     l.opts.ServerURL,
		SignalingToken:   token,
		RecordingCapable: true,
	}, nil
}

// GetICEServers: LiveKit hands out its own ICE config on join; what we return
// here is only what the browser needs before joining.
func (l *LiveKit) GetICEServers(ctx context.Context) []ICEServer {
	sources := append([]ICESource{StaticICE(l.opts.ICE)}, l.opts.ICESources...)
	return ResolveICE(ctx, l.log, MaxICEDiscovery, l.opts.ICE, sources...)
}

func (l *LiveKit) TeardownSession(ctx context.Context, sessionID, reason string) (bool, error) {
	_, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: sessionID})
	if err != nil && !isLiveKitNotFound(err) {
		return false, fmt.Errorf("%w: livekit delete room: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (l *LiveKit) GetQuality(ctx context.Context, sessionID string) (*QualitySample, error) {
	return nil, nil
}

func (l *LiveKit) StartRecording(ctx context.Context, sessionID string) (string, error) {
	path := l.opts.RecordingPrefix + sessionID + ".ogg"
	info, err := l.egress.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
		RoomName:  sessionID,
		AudioOnly: true,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_OGG,
			Filepath: path,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("livekit egress start: %w", err)
	}
	l.log.Info("egress started", "session_id", sessionID, "egress_id", info.GetEgressId())
	return path, nil
}

func (l *LiveKit) StopRecording(ctx context.Context, sessionID string) error {
	list, err := l.egress.ListEgress(ctx, &livekit.ListEgressRequest{RoomName: sessionID, Active: true})
	if err != nil {
		return fmt.Errorf("livekit egress list: %w", err)
	}
	for _, item := range list.GetItems() {
		if _, err := l.egress.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: item.GetEgressId()}); err != nil {
			return fmt.Errorf("livekit egress stop %s: %w", item.GetEgressId(), err)
		}
	}
	return nil
}

func isLiveKitNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not_found") || strings.Contains(msg, "not found")
}
