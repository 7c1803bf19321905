package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"whatsapp-calling/pkg/logger"
)

var (
	ErrNotConfigured = errors.New("whatsapp: client not configured")
	ErrSendFailed    = errors.New("whatsapp: send failed")
)

type ClientOptions struct {
	// BaseURL is the Graph API root including the version, e.g. https://graph.facebook.com/v19.0.
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	opts ClientOptions
	http *resty.Client
	log  *slog.Logger
}

func NewClient(opts ClientOptions, log *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetAuthToken(opts.AccessToken).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{opts: opts, http: c, log: logger.Component(log, "whatsapp")}
}

type DeliveryResult struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
}

type sendTextBody struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

type sendResponse struct {
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) SendText(ctx context.Context, to, body string) (DeliveryResult, error) {
	if c.opts.AccessToken == "" || c.opts.PhoneNumberID == "" {
		return DeliveryResult{}, ErrNotConfigured
	}
	var (
		out  sendResponse
		gerr graphError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(sendTextBody{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             TextBody{Body: body},
		}).
		SetResult(&out).
		SetError(&gerr).
		Post("/" + c.opts.PhoneNumberID + "/messages")
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if resp.IsError() {
		return DeliveryResult{}, fmt.Errorf("%w: status %d: code %d: %s", ErrSendFailed, resp.StatusCode(), gerr.Error.Code, gerr.Error.Message)
	}

	res := DeliveryResult{To: to}
	if len(out.Messages) > 0 {
		res.MessageID = out.Messages[0].ID
	}
	c.log.Debug("whatsapp message sent", "to", to, "message_id", res.MessageID)
	return res, nil
}
