// internal/infra/telegram/ops_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"road_anomaly_reconciler/internal/app"
	"road_anomaly_reconciler/internal/domain/report"
	"road_anomaly_reconciler/internal/infra/scheduler"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// LocalitySummarizer provides per-locality report statistics.
type LocalitySummarizer interface {
	SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error)
}

// CycleTrigger starts a notification cycle on demand.
type CycleTrigger interface {
	TriggerNow(ctx context.Context) (*app.CycleResult, error)
}

// botHandler is the part of *telebot.Bot used for registration.
type botHandler interface {
	Handle(endpoint interface{}, h telebot.HandlerFunc, m ...telebot.MiddlewareFunc)
}

// RegisterOpsCommands wires the operator commands. Only the configured alert
// chat may use them; everyone else gets a short refusal.
func RegisterOpsCommands(
	ctx context.Context,
	b botHandler,
	opsChatID int64,
	summaries LocalitySummarizer,
	trigger CycleTrigger,
	baseLogger *logrus.Entry,
) {
	opsLogger := baseLogger.WithField("handler_group", "ops")

	authorized := func(c telebot.Context) bool {
		return c.Chat() != nil && c.Chat().ID == opsChatID
	}

	b.Handle("/start", func(c telebot.Context) error {
		if !authorized(c) {
			return c.Send("This bot only serves the road maintenance operations chat.")
		}
		return c.Send("Road anomaly alerts will be posted here. Use /help for commands.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		if !authorized(c) {
			return c.Send("No commands are available to you.")
		}
		var helpText strings.Builder
		helpText.WriteString("Available commands:\n\n")
		helpText.WriteString("/summary - report counts per locality\n")
		helpText.WriteString("/notify_now - run a notification cycle immediately\n")
		helpText.WriteString("/help - show this message")
		return c.Send(helpText.String())
	})

	b.Handle("/summary", func(c telebot.Context) error {
		logCtx := opsLogger.WithField("command", "/summary")
		if !authorized(c) {
			logCtx.WithField("chat_id", chatID(c)).Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}

		list, err := summaries.SummarizeLocalities(ctx)
		if err != nil {
			logCtx.WithError(err).Error("Failed to summarize localities")
			return c.Send("Could not load the summary right now. Please try again later.")
		}
		return c.Send(formatSummaries(list))
	})

	b.Handle("/notify_now", func(c telebot.Context) error {
		logCtx := opsLogger.WithField("command", "/notify_now")
		if !authorized(c) {
			logCtx.WithField("chat_id", chatID(c)).Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}

		logCtx.Info("Manual notification cycle requested")
		res, err := trigger.TriggerNow(ctx)
		switch {
		case errors.Is(err, scheduler.ErrCycleInProgress):
			return c.Send("A notification cycle is already running.")
		case err != nil:
			logCtx.WithError(err).Error("Manual notification cycle failed")
			return c.Send(fmt.Sprintf("Notification cycle failed: %s", err.Error()))
		}
		return c.Send(formatCycle(res))
	})
}

func chatID(c telebot.Context) int64 {
	if c.Chat() == nil {
		return 0
	}
	return c.Chat().ID
}

func formatSummaries(list []report.LocalitySummary) string {
	if len(list) == 0 {
		return "No reports stored yet."
	}
	var b strings.Builder
	b.WriteString("Reports per locality:\n")
	for _, s := range list {
		fmt.Fprintf(&b, "\n%s: %d total, %d notified, avg severity %.2f, latest %s",
			s.Locality, s.TotalReports, s.NotifiedReports, s.AverageSeverity, s.LatestReportedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func formatCycle(res *app.CycleResult) string {
	if res.Skipped {
		return fmt.Sprintf("Cycle %s skipped: only %d pending report(s) found.", res.CycleID, res.Collected)
	}
	msg := fmt.Sprintf("Cycle %s: alerts sent for %d locality(ies), %d report(s) marked.", res.CycleID, len(res.Sent), res.Marked)
	if len(res.Failed) > 0 {
		msg += " Failed: " + strings.Join(res.Failed, ", ") + "."
	}
	return msg
}
