package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest aggregates calls created in [From, To). Agent narrows to one agent.
type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
	Agent string    `json:"agent,omitempty"`
}

type CallsSummary struct {
	Agent string    `json:"agent,omitempty"`
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	EndedCalls      int `json:"ended_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	// AnsweredCalls reached Connected at some point.
	AnsweredCalls int `json:"answered_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// AverageQuality covers calls with at least one quality sample.
	AverageQuality float64 `json:"average_quality"`
	ConnectionRate float64 `json:"connection_rate"`

	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
}
