// Package chat runs the IRC command listener: live chat messages for the
// configured channel are screened and submitted to the admission controller,
// and approved plans are handed to the dispatch agent.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/battery-gate/backend/admission"
	"github.com/onnwee/battery-gate/backend/agent"
)

// containsDigit is a cheap prefilter: a trigger message must carry the
// numeric passcode, so anything without a digit can be skipped before it
// reaches the controller.
func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// StartCommandListener connects to chat and feeds candidate command messages
// into the controller. The channel name doubles as the room id. Blocks until
// ctx is canceled.
func StartCommandListener(ctx context.Context, ctrl *admission.Controller, ag *agent.Client, channel string) {
	username := os.Getenv("CHAT_BOT_USERNAME")
	oauth := os.Getenv("CHAT_OAUTH_TOKEN")
	if channel == "" || username == "" || oauth == "" {
		slog.Info("chat creds not set; skipping command listener")
		return
	}
	client := twitch.NewClient(username, oauth)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if !containsDigit(msg.Message) {
			return
		}
		d, err := ctrl.SubmitCommand(ctx, msg.Message, channel)
		if err != nil {
			slog.Error("chat command admission failed", slog.String("room_id", channel), slog.Any("err", err))
			return
		}
		if !d.Approved {
			// Quota denials get a chat reply so the room sees the budget state;
			// passcode misses stay silent to avoid spamming normal chatter.
			switch d.Reason {
			case admission.ReasonHourlyQuotaExceeded:
				client.Say(channel, fmt.Sprintf("hourly battery cap reached! %d/%d", d.HourlyUsed, d.HourlyLimit))
			case admission.ReasonDailyQuotaExceeded:
				client.Say(channel, fmt.Sprintf("daily battery cap reached! %d/%d", d.DailyUsed, d.DailyLimit))
			}
			return
		}
		if err := ag.Dispatch(ctx, channel, d.Plan); err != nil {
			slog.Error("chat-triggered dispatch failed", slog.String("room_id", channel), slog.Any("err", err))
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	if err := client.Connect(); err != nil {
		slog.Error("chat connect error", slog.Any("err", err))
	}
	<-done
}
