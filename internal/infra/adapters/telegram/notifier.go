package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-orchestrator/internal/config"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.EventNotifier = (*Notifier)(nil)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts a message to one chat when a run settles.
type Notifier struct {
	bot    sender
	chatID int64
}

func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

func (n *Notifier) Notify(ctx context.Context, run *model.TaskRun, ev model.RunEvent) error {
	if ev.Type != model.EventRunCompleted && ev.Type != model.EventRunFailed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, formatRun(run)))
	return err
}

func formatRun(run *model.TaskRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", run.ID, run.Status())
	fmt.Fprintf(&b, "Task: %s\n", truncate(run.Task, 200))
	if run.Intent != nil {
		fmt.Fprintf(&b, "Intent: %s (%.2f)\n", run.Intent.Label, run.Intent.Confidence)
	}
	done := 0
	for _, s := range run.Plan {
		if s.Status == model.StepStatusSucceeded {
			done++
		}
	}
	fmt.Fprintf(&b, "Steps: %d/%d succeeded, confidence %.2f", done, len(run.Plan), run.Verification.Confidence)
	for _, f := range run.Diagnostics.Failures {
		fmt.Fprintf(&b, "\n- %s", truncate(f, 200))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
