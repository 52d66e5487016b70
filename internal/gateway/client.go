// Package gateway talks to the Evolution-API WhatsApp gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

// Sender is what a dispatch loop needs from the gateway for one tenant.
type Sender interface {
	// CheckConnection reports whether the tenant's WhatsApp session is open, with a human readable detail.
	CheckConnection(ctx context.Context) (bool, string)
	SendText(ctx context.Context, number, text string) error
	SendMedia(ctx context.Context, number string, media Media, caption string) error
	// Wait blocks until the instance throttle admits one more send.
	Wait(ctx context.Context) error
}

// Timeouts bounds each gateway call.
type Timeouts struct {
	Connection time.Duration
	Text       time.Duration
	Media      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connection: 10 * time.Second,
		Text:       30 * time.Second,
		Media:      60 * time.Second,
	}
}

// EvolutionClient is bound to a single gateway instance.
type EvolutionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	instance   string
	timeouts   Timeouts
	limiter    *rate.Limiter
	log        logger.Logger
}

func NewEvolutionClient(httpClient *http.Client, baseURL, apiKey, instance string, timeouts Timeouts, limiter *rate.Limiter, log logger.Logger) *EvolutionClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	def := DefaultTimeouts()
	if timeouts.Connection <= 0 {
		timeouts.Connection = def.Connection
	}
	if timeouts.Text <= 0 {
		timeouts.Text = def.Text
	}
	if timeouts.Media <= 0 {
		timeouts.Media = def.Media
	}
	return &EvolutionClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		instance:   instance,
		timeouts:   timeouts,
		limiter:    limiter,
		log:        log.WithFields(map[string]interface{}{"instance": instance}),
	}
}

func (c *EvolutionClient) Instance() string {
	return c.instance
}

type connectionStateResponse struct {
	State    string `json:"state"`
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
}

func (c *EvolutionClient) CheckConnection(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Connection)
	defer cancel()

	start := time.Now()
	status, body, err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+c.instance, nil)
	if err != nil {
		observe("connection_state", "unavailable", start)
		c.log.Warn("connection check failed", map[string]interface{}{"error": err})
		if isTimeout(ctx, err) {
			return false, "timeout checking WhatsApp connection"
		}
		return false, err.Error()
	}
	if status != http.StatusOK {
		observe("connection_state", "rejected", start)
		return false, fmt.Sprintf("error checking connection: status %d", status)
	}

	var resp connectionStateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		observe("connection_state", "rejected", start)
		return false, fmt.Sprintf("invalid connection state response: %v", err)
	}
	state := resp.State
	if state == "" {
		state = resp.Instance.State
	}
	if state != "open" {
		observe("connection_state", "disconnected", start)
		return false, fmt.Sprintf("WhatsApp not connected (state: %s)", state)
	}
	observe("connection_state", "ok", start)
	return true, "connected"
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (c *EvolutionClient) SendText(ctx context.Context, number, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Text)
	defer cancel()
	return c.send(ctx, "send_text", "/message/sendText/"+c.instance, sendTextRequest{
		Number: number,
		Text:   text,
	}, "timeout sending message")
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	MimeType  string `json:"mimetype"`
	Caption   string `json:"caption"`
}

func (c *EvolutionClient) SendMedia(ctx context.Context, number string, media Media, caption string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Media)
	defer cancel()
	return c.send(ctx, "send_media", "/message/sendMedia/"+c.instance, sendMediaRequest{
		Number:    number,
		MediaType: "image",
		Media:     media.DataURI(),
		MimeType:  media.MimeType,
		Caption:   caption,
	}, "timeout sending image")
}

func (c *EvolutionClient) Wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *EvolutionClient) send(ctx context.Context, operation, path string, payload any, timeoutMsg string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	start := time.Now()
	status, respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		observe(operation, "unavailable", start)
		if isTimeout(ctx, err) {
			return appErrors.NewGatewayUnavailable(timeoutMsg, err)
		}
		return appErrors.NewGatewayUnavailable(err.Error(), err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		observe(operation, "rejected", start)
		msg := errorMessage(respBody)
		c.log.Debug("gateway rejected request", map[string]interface{}{
			"operation":   operation,
			"status_code": status,
			"message":     msg,
		})
		return appErrors.NewGatewayRejected(status, msg)
	}
	observe(operation, "ok", start)
	return nil
}

func (c *EvolutionClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read gateway response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// errorMessage extracts the body's "message" field verbatim. A non-string message is returned as its JSON text.
func errorMessage(body []byte) string {
	var parsed struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Message) > 0 && string(parsed.Message) != "null" {
		var s string
		if err := json.Unmarshal(parsed.Message, &s); err == nil {
			return s
		}
		return string(parsed.Message)
	}
	if raw := strings.TrimSpace(string(body)); raw != "" {
		return raw
	}
	return "unknown gateway error"
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

var _ Sender = (*EvolutionClient)(nil)
