package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipcoach/slipwatch/pkg/event"
)

// warnLogger records warnings.
type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *warnLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func TestNew_NoChannels(t *testing.T) {
	svc, err := New(Params{}, &warnLogger{})
	require.NoError(t, err)
	assert.Nil(t, svc, "no channels configured means no service")
}

func TestNew_UnknownChannel(t *testing.T) {
	_, err := New(Params{Channels: []string{"carrier-pigeon"}}, &warnLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification channel")
}

func TestNew_TelegramValidation(t *testing.T) {
	_, err := New(Params{Channels: []string{"telegram"}}, &warnLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_telegram_token")

	_, err = New(Params{Channels: []string{"telegram"}, TelegramToken: "tok"}, &warnLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_telegram_chat")
}

func TestNew_TelegramInitFailureRedactsToken(t *testing.T) {
	orig := telegramChannelMaker
	telegramChannelMaker = func(Params) (channel, error) {
		return channel{}, errors.New("verify bot sekrit-token-123: connection refused")
	}
	defer func() { telegramChannelMaker = orig }()

	log := &warnLogger{}
	svc, err := New(Params{
		Channels:      []string{"telegram"},
		TelegramToken: "sekrit-token-123",
		TelegramChat:  "mychat",
	}, log)
	require.NoError(t, err, "init failure disables the channel, not the service")
	require.NotNil(t, svc)
	assert.Empty(t, svc.channels)

	warns := log.all()
	require.NotEmpty(t, warns)
	assert.Contains(t, warns[0], "[REDACTED]")
	assert.NotContains(t, strings.Join(warns, "\n"), "sekrit-token-123")
}

func TestNew_EmailValidation(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		wantErr string
	}{
		{"missing host", Params{Channels: []string{"email"}}, "notify_smtp_host"},
		{"missing from", Params{Channels: []string{"email"}, SMTPHost: "smtp.example.com"}, "notify_email_from"},
		{"missing to", Params{Channels: []string{"email"}, SMTPHost: "smtp.example.com", EmailFrom: "a@b.c"}, "notify_email_to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p, &warnLogger{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_EmailChannel(t *testing.T) {
	svc, err := New(Params{
		Channels:  []string{"email"},
		SMTPHost:  "smtp.example.com",
		SMTPPort:  587,
		EmailFrom: "slipwatch@example.com",
		EmailTo:   []string{"me@example.com", "you@example.com"},
	}, &warnLogger{})
	require.NoError(t, err)
	require.NotNil(t, svc)
	require.Len(t, svc.channels, 1)
	assert.Contains(t, svc.channels[0].dest, "mailto:me@example.com,you@example.com")
	assert.False(t, svc.channels[0].htmlEscape)
}

func TestNew_SlackValidation(t *testing.T) {
	_, err := New(Params{Channels: []string{"slack"}}, &warnLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_slack_token")
}

func TestNew_WebhookChannels(t *testing.T) {
	svc, err := New(Params{
		Channels:    []string{"webhook"},
		WebhookURLs: []string{"https://a.example.com/hook", "https://b.example.com/hook"},
	}, &warnLogger{})
	require.NoError(t, err)
	require.Len(t, svc.channels, 2)
	assert.Equal(t, "https://a.example.com/hook", svc.channels[0].dest)
}

func TestNew_CustomValidation(t *testing.T) {
	_, err := New(Params{Channels: []string{"custom"}}, &warnLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_custom_script")
}

func TestNew_DefaultTimeout(t *testing.T) {
	svc, err := New(Params{
		Channels:    []string{"webhook"},
		WebhookURLs: []string{"https://a.example.com/hook"},
	}, &warnLogger{})
	require.NoError(t, err)
	assert.Equal(t, 10000, svc.timeoutMs)
}

func TestService_Send_NilSafe(t *testing.T) {
	var svc *Service
	svc.Send(context.Background(), Summary{Matchup: "Fox vs Marth"}) // must not panic
}

func TestService_FormatMessage(t *testing.T) {
	svc := &Service{hostname: "battle-station"}
	msg := svc.formatMessage(Summary{
		Matchup:  "Fox vs Marth",
		Stage:    "Battlefield",
		Duration: 4*time.Minute + 23*time.Second,
		Totals: []event.PlayerTotals{
			{Character: "Fox", StocksLost: 2, DamageDealt: 312.52, Combos: 5},
			{Character: "Marth", StocksLost: 4, DamageDealt: 180, Combos: 2},
		},
	})

	assert.Contains(t, msg, "match finished on battle-station")
	assert.Contains(t, msg, "matchup:  Fox vs Marth")
	assert.Contains(t, msg, "stage:    Battlefield")
	assert.Contains(t, msg, "duration: 4m23s")
	assert.Contains(t, msg, "Fox: 2 stocks lost, 312.5% dealt, 5 combos")
	assert.Contains(t, msg, "Marth: 4 stocks lost, 180% dealt, 2 combos")
}

func TestService_FormatMessage_MinimalSummary(t *testing.T) {
	svc := &Service{hostname: "host"}
	msg := svc.formatMessage(Summary{Matchup: "Fox vs Marth"})

	assert.Contains(t, msg, "matchup:  Fox vs Marth")
	assert.NotContains(t, msg, "stage:")
	assert.NotContains(t, msg, "duration:")
}
