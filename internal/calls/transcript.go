package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/pkg/logger"
)

// Transcriber turns a call recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
}

// TranscriptWorker handles TaskGenerateTranscript. The transcript is stored
// as a CRM record keyed by call_id, so a redelivered task is a no-op.
type TranscriptWorker struct {
	transcriber Transcriber
	store       crm.Store
	log         *slog.Logger
}

func NewTranscriptWorker(t Transcriber, store crm.Store, log *slog.Logger) *TranscriptWorker {
	return &TranscriptWorker{transcriber: t, store: store, log: logger.Component(log, "transcripts")}
}

func (w *TranscriptWorker) HandleTask(ctx context.Context, raw json.RawMessage) error {
	var t TranscriptTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("calls: decode transcript task: %w", err)
	}
	if t.CallID == "" || t.RecordingURL == "" {
		return fmt.Errorf("%w: call_id and recording_url are required", ErrInvalidRequest)
	}
	log := w.log.With("call_id", t.CallID, "session_id", t.SessionID)

	if _, err := w.store.FindOne(ctx, crm.KindCallTranscript, "call_id", t.CallID); err == nil {
		log.Info("transcript already exists")
		return nil
	} else if !errors.Is(err, crm.ErrNotFound) {
		return err
	}

	if w.transcriber == nil {
		log.Warn("transcription requested but no transcriber configured")
		return nil
	}
	text, err := w.transcriber.Transcribe(ctx, t.RecordingURL)
	if err != nil {
		return fmt.Errorf("calls: transcribe %s: %w", t.CallID, err)
	}

	rec, err := w.store.Create(ctx, crm.KindCallTranscript, crm.Fields{
		"call_id":       t.CallID,
		"session_id":    t.SessionID,
		"recording_url": t.RecordingURL,
		"transcript":    text,
	})
	if err != nil {
		return fmt.Errorf("calls: store transcript: %w", err)
	}
	log.Info("transcript stored", "record", rec.Name, "chars", len(text))
	return nil
}

type WhisperOptions struct {
	APIKey  string
	BaseURL string
	// DownloadTimeout bounds fetching the recording.
	DownloadTimeout time.Duration
	MaxRetries      int
}

// WhisperTranscriber downloads the recording and sends it to the OpenAI
// audio transcription endpoint.
type WhisperTranscriber struct {
	client openai.Client
	http   *resty.Client
}

func NewWhisperTranscriber(opts WhisperOptions) *WhisperTranscriber {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 60 * time.Second
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &WhisperTranscriber{
		client: openai.NewClient(reqOpts...),
		http:   resty.New().SetTimeout(opts.DownloadTimeout),
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	resp, err := w.http.R().SetContext(ctx).Get(recordingURL)
	if err != nil {
		return "", fmt.Errorf("download recording: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("download recording: status %d", resp.StatusCode())
	}

	name := path.Base(strings.SplitN(recordingURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "recording.webm"
	}
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	tr, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(resp.Body()), name, contentType),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}
