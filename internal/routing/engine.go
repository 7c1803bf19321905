package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"whatsapp-calling/pkg/logger"
)

// Assigner picks the agent a qualified lead is handed to.
type Assigner interface {
	Assign(ctx context.Context, phone string) (Assignment, error)
}

// WeightedAgent is one pool member. An agent with weight 3 gets three turns
// per rotation.
type WeightedAgent struct {
	User   string
	Weight int
}

// ParseAgents reads "user" or "user:weight" entries.
func ParseAgents(entries []string) ([]WeightedAgent, error) {
	out := make([]WeightedAgent, 0, len(entries))
	for _, e := range entries {
		user, w, found := strings.Cut(strings.TrimSpace(e), ":")
		if user == "" {
			return nil, fmt.Errorf("routing: empty agent in %q", e)
		}
		weight := 1
		if found {
			n, err := strconv.Atoi(w)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("routing: weight for %q must be a positive integer", user)
			}
			weight = n
		}
		out = append(out, WeightedAgent{User: user, Weight: weight})
	}
	return out, nil
}

// RoundRobin rotates through the weighted pool. With no agents every lead
// goes to the default owner.
type RoundRobin struct {
	slots        []string
	cursor       Cursor
	defaultOwner string
	log          *slog.Logger
}

func NewRoundRobin(agents []WeightedAgent, cursor Cursor, defaultOwner string, log *slog.Logger) *RoundRobin {
	if cursor == nil {
		cursor = &MemoryCursor{}
	}
	if defaultOwner == "" {
		defaultOwner = DefaultOwner
	}
	var slots []string
	for _, a := range agents {
		for i := 0; i < a.Weight; i++ {
			slots = append(slots, a.User)
		}
	}
	return &RoundRobin{slots: slots, cursor: cursor, defaultOwner: defaultOwner, log: logger.Component(log, "routing")}
}

func (r *RoundRobin) Assign(ctx context.Context, phone string) (Assignment, error) {
	if len(r.slots) == 0 {
		return Assignment{AssignedTo: r.defaultOwner, Reason: ReasonDefaultOwner}, nil
	}
	n, err := r.cursor.Next(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Assignment{}, err
		}
		// A broken cursor must not block the hand-off.
		r.log.Warn("assignment cursor unavailable; using default owner", "phone", phone, "err", err)
		return Assignment{AssignedTo: r.defaultOwner, Reason: ReasonDefaultOwner}, nil
	}
	idx := int((n - 1) % int64(len(r.slots)))
	if idx < 0 {
		idx += len(r.slots)
	}
	return Assignment{AssignedTo: r.slots[idx], Reason: ReasonRoundRobin}, nil
}
