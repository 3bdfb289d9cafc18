// Package notification provides out-of-band alerting for chart health.
package notification

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/refresh"

	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// Refresher issues manual refreshes on behalf of chat commands. Satisfied
// by *dashboard.Session.
type Refresher interface {
	ManualRefresh(ctx context.Context, chartID string) refresh.Outcome
	GetChartState(chartID string) (core.RuntimeState, bool)
}

// Settings configures the Telegram notifier.
type Settings struct {
	Token string
	Users []int // authorized user ids
}

// Telegram implements core.Notifier, alerting authorized users when a
// chart pauses or fails terminally, and accepting /refresh commands.
type Telegram struct {
	settings  Settings
	refresher Refresher
	client    *tb.Bot
	log       core.Logger
}

// Option configures a telegram instance.
type Option func(telegram *Telegram)

// NewTelegram creates and initializes the Telegram notifier.
func NewTelegram(refresher Refresher, settings Settings, log core.Logger, options ...Option) (*Telegram, error) {
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	middleware := newAuthMiddleware(poller, settings, log)

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    middleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	if err := client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Show chart health"},
		{Text: "/refresh", Description: "Manually refresh a paused chart"},
	}); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	notifier := &Telegram{
		settings:  settings,
		refresher: refresher,
		client:    client,
		log:       log,
	}

	for _, option := range options {
		option(notifier)
	}

	client.Handle("/help", notifier.HelpHandle)
	client.Handle("/status", notifier.StatusHandle)
	client.Handle("/refresh", notifier.RefreshHandle)

	return notifier, nil
}

// newAuthMiddleware creates a middleware to validate authorized users.
func newAuthMiddleware(poller *tb.LongPoller, settings Settings, log core.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(settings.Users, int(u.Message.Sender.ID)) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

// Start begins polling for chat commands.
func (t *Telegram) Start() {
	go t.client.Start()
	t.broadcast("dashwire monitoring started")
}

// OnChartPaused implements core.Notifier.
func (t *Telegram) OnChartPaused(chartID string, failures int, lastErr *core.FetchError) {
	msg := fmt.Sprintf("⏸ chart `%s` paused after %d consecutive failures", chartID, failures)
	if lastErr != nil {
		msg += fmt.Sprintf("\nlast error (%s): %v", lastErr.Kind, lastErr.Err)
	}
	msg += "\nuse /refresh " + chartID + " to resume"
	t.broadcast(msg)
}

// OnChartError implements core.Notifier. Retryable failures are only
// logged; the scheduler handles them.
func (t *Telegram) OnChartError(chartID string, err *core.FetchError) {
	if err != nil && !err.Kind.Retryable() {
		t.broadcast(fmt.Sprintf("⚠️ chart `%s` failed (%s): %v", chartID, err.Kind, err.Err))
		return
	}
	t.log.WithError(err).WithField("chart", chartID).Debug("chart fetch error")
}

// OnChartRecovered implements core.Notifier.
func (t *Telegram) OnChartRecovered(chartID string, after time.Duration) {
	t.broadcast(fmt.Sprintf("✅ chart `%s` recovered after %s", chartID, after.Round(time.Second)))
}

// HelpHandle responds to /help.
func (t *Telegram) HelpHandle(m *tb.Message) {
	t.reply(m, strings.Join([]string{
		"/status <chart> - show chart health",
		"/refresh <chart> - manually refresh a chart",
	}, "\n"))
}

// StatusHandle responds to /status <chart>.
func (t *Telegram) StatusHandle(m *tb.Message) {
	chartID := strings.TrimSpace(m.Payload)
	if chartID == "" {
		t.reply(m, "usage: /status <chart>")
		return
	}

	state, ok := t.refresher.GetChartState(chartID)
	if !ok {
		t.reply(m, fmt.Sprintf("chart `%s` is not mounted", chartID))
		return
	}

	msg := fmt.Sprintf("chart `%s`: %s, %d consecutive failures", chartID, state.Phase, state.ConsecutiveFailures)
	if state.LastError != nil {
		msg += fmt.Sprintf("\nlast error (%s): %v", state.LastError.Kind, state.LastError.Err)
	}
	if !state.LastSuccessAt.IsZero() {
		msg += fmt.Sprintf("\nlast success: %s", state.LastSuccessAt.Format(time.RFC3339))
	}
	t.reply(m, msg)
}

// RefreshHandle responds to /refresh <chart>, resetting the failure count
// and forcing a fetch.
func (t *Telegram) RefreshHandle(m *tb.Message) {
	chartID := strings.TrimSpace(m.Payload)
	if chartID == "" {
		t.reply(m, "usage: /refresh <chart>")
		return
	}

	outcome := t.refresher.ManualRefresh(context.Background(), chartID)
	if outcome.Err != nil {
		t.reply(m, fmt.Sprintf("refresh of `%s` failed (%s): %v", chartID, outcome.Err.Kind, outcome.Err.Err))
		return
	}
	t.reply(m, fmt.Sprintf("chart `%s` refreshed", chartID))
}

// broadcast sends a message to every authorized user.
func (t *Telegram) broadcast(message string) {
	for _, userID := range t.settings.Users {
		user := &tb.User{ID: int64(userID)}
		if _, err := t.client.Send(user, message); err != nil {
			t.log.WithError(err).Error("failed to send telegram message")
		}
	}
}

// reply answers in the chat the command arrived from.
func (t *Telegram) reply(m *tb.Message, message string) {
	if _, err := t.client.Reply(m, message); err != nil {
		t.log.WithError(err).Error("failed to reply on telegram")
	}
}
