// Package agent is the HTTP client for the dispatch agent: the downstream
// service that performs the actual gift sends and posts room chat messages.
// The admission core never calls it; callers invoke it only after the
// admission decision has been returned and the ledger lock released.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/battery-gate/backend/admission"
	"github.com/onnwee/battery-gate/backend/command"
	"github.com/onnwee/battery-gate/backend/telemetry"
)

// Client talks to the dispatch agent. A nil Client or empty BaseURL disables
// dispatch (decisions are still made; sends are skipped with a log line).
type Client struct {
	BaseURL    string
	GiftID     string
	HTTPClient *http.Client

	tokenSource oauth2.TokenSource
}

// New builds a client. tokenURL/clientID/clientSecret configure a
// client-credentials token source for the agent API; leave them empty to send
// unauthenticated requests (local dev).
func New(baseURL, giftID, tokenURL, clientID, clientSecret string) *Client {
	c := &Client{BaseURL: baseURL, GiftID: giftID}
	if tokenURL != "" && clientID != "" && clientSecret != "" {
		cc := &clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
		c.tokenSource = cc.TokenSource(context.Background())
	}
	return c
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Enabled reports whether dispatch calls will actually go out.
func (c *Client) Enabled() bool { return c != nil && c.BaseURL != "" }

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokenSource != nil {
		tok, err := c.tokenSource.Token()
		if err != nil {
			return fmt.Errorf("agent token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent %s returned %d: %s", path, resp.StatusCode, string(b))
	}
	return nil
}

// SendGift asks the agent to send quantity batteries to the room from account.
func (c *Client) SendGift(ctx context.Context, roomID string, account command.Account, quantity int) error {
	if !c.Enabled() {
		slog.Debug("dispatch agent disabled; skipping gift send", slog.String("room_id", roomID))
		return nil
	}
	return c.post(ctx, "/gifts", map[string]any{
		"room_id":  roomID,
		"account":  string(account),
		"quantity": quantity,
		"gift_id":  c.GiftID,
	})
}

// SendDanmaku asks the agent to post a chat message into the room.
func (c *Client) SendDanmaku(ctx context.Context, roomID, message string) error {
	if !c.Enabled() {
		slog.Debug("dispatch agent disabled; skipping danmaku", slog.String("room_id", roomID))
		return nil
	}
	return c.post(ctx, "/danmaku", map[string]any{
		"room_id": roomID,
		"message": message,
	})
}

// Dispatch executes an approved plan: one send for a single plan, one send per
// account for a fan-out. Failures are logged per send; the first error is
// returned after all sends were attempted.
func (c *Client) Dispatch(ctx context.Context, roomID string, plan *admission.Plan) error {
	var firstErr error
	send := func(account command.Account, qty int) {
		var err error
		telemetry.TimeFunc(telemetry.DispatchDuration, func() {
			err = c.SendGift(ctx, roomID, account, qty)
		})
		if err != nil {
			slog.Error("gift dispatch failed",
				slog.String("room_id", roomID), slog.String("account", string(account)),
				slog.Int("quantity", qty), slog.Any("err", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if plan.Kind == admission.PlanFanOut {
		for _, account := range plan.Accounts {
			send(account, plan.Quantity)
		}
		return firstErr
	}
	send(plan.Account, plan.Quantity)
	return firstErr
}

// Notify relays a user-facing denial message into the room chat. Errors are
// logged, not returned; notification is best effort.
func (c *Client) Notify(ctx context.Context, roomID string, d admission.Decision) {
	var msg string
	switch d.Reason {
	case admission.ReasonInvalidChallenge:
		msg = "wrong passcode!"
	case admission.ReasonHourlyQuotaExceeded:
		msg = fmt.Sprintf("hourly battery cap reached! %d/%d", d.HourlyUsed, d.HourlyLimit)
	case admission.ReasonDailyQuotaExceeded:
		msg = fmt.Sprintf("daily battery cap reached! %d/%d", d.DailyUsed, d.DailyLimit)
	default:
		return
	}
	if err := c.SendDanmaku(ctx, roomID, msg); err != nil {
		slog.Warn("denial notification failed", slog.String("room_id", roomID), slog.Any("err", err))
	}
}
