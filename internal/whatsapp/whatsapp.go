// Package whatsapp connects builtin-mode bots to the WhatsApp Cloud API.
// WhatsApp has no persistent socket: inbound messages arrive as webhook
// payloads and replies are sent with plain HTTPS calls.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

const (
	requestTimeout = 10 * time.Second
	maxTextLength  = 4096
)

// Connector implements runtime.Connector for WhatsApp.
type Connector struct {
	apiURL string
	client *http.Client
}

// NewConnector creates a WhatsApp connector for the Cloud API at apiURL,
// e.g. https://graph.facebook.com/v20.0.
func NewConnector(apiURL string) *Connector {
	return &Connector{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Connect checks that the token can read the configured phone number.
func (c *Connector) Connect(ctx context.Context, spec runtime.LaunchSpec) (runtime.Connection, error) {
	if spec.Manifest == nil || spec.Manifest.WhatsApp == nil {
		return nil, apperrors.NewValidationError("whatsapp bots need whatsapp.phone_id in "+manifest.FileName, nil)
	}

	conn := &connection{
		apiURL:   c.apiURL,
		client:   c.client,
		token:    spec.Token,
		phoneID:  spec.Manifest.WhatsApp.PhoneID,
		manifest: spec.Manifest,
		log:      spec.Logger.With("platform", "whatsapp"),
	}

	body, err := conn.call(ctx, http.MethodGet, conn.phoneURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp authentication failed: %w", err)
	}

	info := gjson.ParseBytes(body)
	conn.log.InfoContext(ctx, "WhatsApp number verified",
		"display_phone_number", info.Get("display_phone_number").String(),
		"verified_name", info.Get("verified_name").String())

	return conn, nil
}

type connection struct {
	apiURL   string
	client   *http.Client
	token    string
	phoneID  string
	manifest *manifest.Manifest
	log      *slog.Logger
}

// Disconnect is a no-op; there is no session to tear down.
func (c *connection) Disconnect(context.Context) error {
	return nil
}

// inbound is a text message extracted from a webhook payload.
type inbound struct {
	ID   string
	From string
	Text string
}

// HandleWebhook answers every text message in a Cloud API webhook payload.
func (c *connection) HandleWebhook(ctx context.Context, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return apperrors.NewValidationError("webhook payload is not valid JSON", nil)
	}

	var firstErr error
	for _, msg := range parseMessages(payload, c.phoneID) {
		reply, ok := c.manifest.Reply(msg.Text)
		if !ok {
			continue
		}
		if err := c.send(ctx, msg, reply); err != nil {
			c.log.ErrorContext(ctx, "Failed to send reply", "error", err, "message_id", msg.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.log.DebugContext(ctx, "Sent reply", "message_id", msg.ID)
	}
	return firstErr
}

// parseMessages collects text messages addressed to phoneID.
func parseMessages(payload []byte, phoneID string) []inbound {
	var out []inbound

	gjson.GetBytes(payload, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			if id := value.Get("metadata.phone_number_id").String(); id != "" && id != phoneID {
				return true
			}
			value.Get("messages").ForEach(func(_, m gjson.Result) bool {
				if m.Get("type").String() == "text" {
					out = append(out, inbound{
						ID:   m.Get("id").String(),
						From: m.Get("from").String(),
						Text: m.Get("text.body").String(),
					})
				}
				return true
			})
			return true
		})
		return true
	})

	return out
}

func (c *connection) send(ctx context.Context, to inbound, text string) error {
	text = truncate(text, maxTextLength)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to.From,
		"type":              "text",
		"context":           map[string]string{"message_id": to.ID},
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = c.call(ctx, http.MethodPost, c.phoneURL()+"/messages", body)
	return err
}

// truncate shortens text to at most limit characters, marking the cut.
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit-3]) + "..."
}

func (c *connection) phoneURL() string {
	return c.apiURL + "/" + c.phoneID
}

// call performs an authenticated request and returns the response body.
// Non-2xx responses become errors carrying the API's error message.
func (c *connection) call(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}

	return respBody, nil
}
