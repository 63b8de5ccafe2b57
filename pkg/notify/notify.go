// Package notify sends end-of-match summaries through the configured
// notification channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	ntfy "github.com/go-pkgz/notify"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// Params holds configuration for creating a notification Service.
type Params struct {
	Channels      []string
	TimeoutMs     int
	TelegramToken string
	TelegramChat  string
	SlackToken    string
	SlackChannel  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPStartTLS  bool
	EmailFrom     string
	EmailTo       []string
	WebhookURLs   []string
	CustomScript  string
}

// Summary holds the end-of-match data sent through the channels.
type Summary struct {
	Matchup  string               `json:"matchup"`
	Stage    string               `json:"stage"`
	Duration time.Duration        `json:"duration"`
	Totals   []event.PlayerTotals `json:"totals"`
}

// Service orchestrates sending match summaries through configured channels.
type Service struct {
	channels  []channel      // paired notifier + destination
	custom    *customChannel // optional custom script channel
	timeoutMs int
	hostname  string // resolved once at creation via os.Hostname()
	log       logger
}

// channel pairs a notifier with its destination URI.
type channel struct {
	notifier   ntfy.Notifier
	dest       string
	htmlEscape bool // true for channels that use HTML parse mode (e.g., telegram)
}

// logger interface for dependency injection.
type logger interface {
	Warn(format string, args ...any)
}

// New creates a notification Service from the given Params.
// returns nil, nil if no channels are configured; Send is nil-safe so
// callers can skip the nil check.
func New(p Params, log logger) (*Service, error) {
	if len(p.Channels) == 0 {
		return nil, nil //nolint:nilnil // nil,nil signals "no channels configured"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	svc := &Service{
		timeoutMs: p.TimeoutMs,
		hostname:  hostname,
		log:       log,
	}
	if svc.timeoutMs <= 0 {
		svc.timeoutMs = 10000
	}

	for _, ch := range p.Channels {
		switch strings.TrimSpace(strings.ToLower(ch)) {
		case "telegram":
			if p.TelegramToken == "" {
				return nil, errors.New("telegram channel: notify_telegram_token is required")
			}
			if p.TelegramChat == "" {
				return nil, errors.New("telegram channel: notify_telegram_chat is required")
			}
			c, cErr := telegramChannelMaker(p)
			if cErr != nil {
				// telegram init makes a live API call to verify the bot token;
				// if the network is unavailable, skip the channel instead of
				// failing startup. redact the token from the error.
				errMsg := strings.ReplaceAll(cErr.Error(), p.TelegramToken, "[REDACTED]")
				log.Warn("telegram channel disabled: %s", errMsg)
				continue
			}
			svc.channels = append(svc.channels, c)
		case "email":
			c, cErr := makeEmailChannel(p)
			if cErr != nil {
				return nil, fmt.Errorf("email channel: %w", cErr)
			}
			svc.channels = append(svc.channels, c)
		case "slack":
			c, cErr := makeSlackChannel(p)
			if cErr != nil {
				return nil, fmt.Errorf("slack channel: %w", cErr)
			}
			svc.channels = append(svc.channels, c)
		case "webhook":
			chs, cErr := makeWebhookChannels(p)
			if cErr != nil {
				return nil, fmt.Errorf("webhook channel: %w", cErr)
			}
			svc.channels = append(svc.channels, chs...)
		case "custom":
			if p.CustomScript == "" {
				return nil, errors.New("custom channel: notify_custom_script is required")
			}
			svc.custom = newCustomChannel(p.CustomScript)
		default:
			return nil, fmt.Errorf("unknown notification channel: %q", ch)
		}
	}

	if len(svc.channels) == 0 && svc.custom == nil {
		log.Warn("all notification channels were disabled due to initialization errors")
	}

	return svc, nil
}

// Send sends a match summary. nil-safe on receiver; errors are logged but
// never returned (best-effort).
func (s *Service) Send(ctx context.Context, sum Summary) {
	if s == nil {
		return
	}

	msg := s.formatMessage(sum)

	timeout := time.Duration(s.timeoutMs) * time.Millisecond
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, ch := range s.channels {
		text := msg
		if ch.htmlEscape {
			text = html.EscapeString(msg)
		}
		if err := ch.notifier.Send(sendCtx, ch.dest, text); err != nil {
			s.log.Warn("notification failed for %s: %v", ch.notifier, err)
		}
	}

	if s.custom != nil {
		if err := s.custom.send(sendCtx, sum); err != nil {
			s.log.Warn("custom notification failed: %v", err)
		}
	}
}

// formatMessage creates a plain text summary message.
func (s *Service) formatMessage(sum Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "match finished on %s\n\n", s.hostname)
	fmt.Fprintf(&b, "matchup:  %s\n", sum.Matchup)
	if sum.Stage != "" {
		fmt.Fprintf(&b, "stage:    %s\n", sum.Stage)
	}
	if sum.Duration > 0 {
		fmt.Fprintf(&b, "duration: %s\n", sum.Duration.Round(time.Second))
	}

	for _, t := range sum.Totals {
		fmt.Fprintf(&b, "%s: %d stocks lost, %s%% dealt, %d combos\n",
			t.Character, t.StocksLost, humanize.FtoaWithDigits(t.DamageDealt, 1), t.Combos)
	}

	return b.String()
}

// telegramChannelMaker creates a telegram notifier and destination.
// overridden in tests to avoid live API calls.
var telegramChannelMaker = makeTelegramChannel

// makeTelegramChannel creates a telegram notifier and destination.
func makeTelegramChannel(p Params) (channel, error) {
	tg, err := ntfy.NewTelegram(ntfy.TelegramParams{Token: p.TelegramToken})
	if err != nil {
		return channel{}, fmt.Errorf("create telegram notifier: %w", err)
	}

	dest := fmt.Sprintf("telegram:%s?parseMode=HTML", p.TelegramChat)
	return channel{notifier: tg, dest: dest, htmlEscape: true}, nil
}

// makeEmailChannel creates an email notifier and destination.
func makeEmailChannel(p Params) (channel, error) {
	if p.SMTPHost == "" {
		return channel{}, errors.New("notify_smtp_host is required")
	}
	if p.EmailFrom == "" {
		return channel{}, errors.New("notify_email_from is required")
	}
	if len(p.EmailTo) == 0 {
		return channel{}, errors.New("notify_email_to is required")
	}

	em := ntfy.NewEmail(ntfy.SMTPParams{
		Host:     p.SMTPHost,
		Port:     p.SMTPPort,
		Username: p.SMTPUsername,
		Password: p.SMTPPassword,
		StartTLS: p.SMTPStartTLS,
	})

	to := strings.Join(p.EmailTo, ",")
	dest := fmt.Sprintf("mailto:%s?from=%s&subject=%s",
		to,
		url.QueryEscape(p.EmailFrom),
		url.QueryEscape("slipwatch match summary"),
	)

	return channel{notifier: em, dest: dest}, nil
}

// makeSlackChannel creates a slack notifier and destination.
func makeSlackChannel(p Params) (channel, error) {
	if p.SlackToken == "" {
		return channel{}, errors.New("notify_slack_token is required")
	}
	if p.SlackChannel == "" {
		return channel{}, errors.New("notify_slack_channel is required")
	}

	sl := ntfy.NewSlack(p.SlackToken)
	dest := "slack:" + p.SlackChannel
	return channel{notifier: sl, dest: dest}, nil
}

// makeWebhookChannels creates webhook notifiers for each configured URL.
func makeWebhookChannels(p Params) ([]channel, error) {
	if len(p.WebhookURLs) == 0 {
		return nil, errors.New("notify_webhook_urls is required")
	}

	wh := ntfy.NewWebhook(ntfy.WebhookParams{})
	var channels []channel
	for _, u := range p.WebhookURLs {
		channels = append(channels, channel{notifier: wh, dest: u})
	}
	return channels, nil
}
