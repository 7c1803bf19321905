package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"whatsapp-calling/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side reporting needs; calls.Store satisfies it.
type Repository interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]calls.Session, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCreatedBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Agent: req.Agent, Range: req.Range}
	var qualitySum float64
	var qualityN int
	for _, c := range rows {
		if req.Agent != "" && c.Agent != req.Agent {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.StartTime != nil {
			out.AnsweredCalls++
		}
		if c.Quality != nil {
			qualitySum += c.Quality.Score
			qualityN++
		}
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
			if out.FailureReasons == nil {
				out.FailureReasons = map[string]int{}
			}
			out.FailureReasons[c.FailureReason]++
		default:
			out.InProgressCalls++
		}
	}
	if out.AnsweredCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.AnsweredCalls
	}
	if qualityN > 0 {
		out.AverageQuality = round1(qualitySum / float64(qualityN))
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
