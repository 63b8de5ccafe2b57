// Package main provides slipwatch - live replay monitoring for Slippi Melee
// sessions with throttled commentary events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/slipcoach/slipwatch/pkg/coach"
	"github.com/slipcoach/slipwatch/pkg/config"
	"github.com/slipcoach/slipwatch/pkg/monitor"
	"github.com/slipcoach/slipwatch/pkg/notify"
	"github.com/slipcoach/slipwatch/pkg/progress"
	"github.com/slipcoach/slipwatch/pkg/replay/slp"
	"github.com/slipcoach/slipwatch/pkg/watcher"
)

// opts holds all command-line options.
type opts struct {
	Dir        string `long:"dir" description:"replay directory to watch (auto-detected if omitted)"`
	IncludeCPU bool   `long:"include-cpu" description:"emit events for CPU players"`
	Port       int    `short:"p" long:"port" description:"SSE event feed port (overrides config, 0 disables)"`
	LogFile    string `long:"log-file" description:"write session log to file"`
	Debug      bool   `short:"d" long:"debug" description:"enable debug logging"`
	NoColor    bool   `long:"no-color" description:"disable color output"`
	Version    bool   `short:"v" long:"version" description:"print version and exit"`
}

var revision = "unknown"

func main() {
	fmt.Printf("slipwatch %s\n", revision)

	var o opts
	parser := flags.NewParser(&o, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		os.Exit(0)
	}

	// setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	cfg, err := config.Load("") // empty string uses default location
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, o)

	// resolve replay directory: flag, config, then auto-detection
	replayDir := cfg.ReplayDir
	if replayDir == "" {
		replayDir, err = watcher.DetectReplayDir()
		if err != nil {
			return fmt.Errorf("no replay directory found, pass --dir or set replay_dir in %s: %w",
				cfg.ConfigDir(), err)
		}
	}

	// a missing replay directory is a configuration error, not a wait-for-it
	w, err := watcher.New(replayDir)
	if err != nil {
		return fmt.Errorf("watch replay dir: %w", err)
	}

	log, err := progress.NewLogger(progress.Config{
		LogFile: cfg.LogFile,
		Debug:   o.Debug,
		NoColor: o.NoColor,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	log.Section("slipwatch " + revision)

	persona, err := coach.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	dispatchers := coach.Multi{coach.NewConsole(persona, o.NoColor)}

	if cfg.FeedPort > 0 {
		feed := coach.NewFeed(cfg.FeedPort, log)
		go func() {
			if feedErr := feed.Start(ctx); feedErr != nil {
				log.Error("event feed stopped: %v", feedErr)
			}
		}()
		log.Print(progress.KindFeed, "event feed: http://localhost:%d/events", cfg.FeedPort)
		dispatchers = append(dispatchers, feed)
	}

	svc, err := notify.New(notifyParams(cfg), log)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	if svc != nil {
		dispatchers = append(dispatchers, notify.NewBatchDispatcher(svc))
	}

	log.Print(progress.KindSession, "persona: %s (%s)", persona.Name, persona.Tone)

	mon := monitor.New(monitorConfig(cfg), w, slp.Open, dispatchers, log)
	if runErr := mon.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("monitor: %w", runErr)
	}
	return nil
}

// applyFlags overrides config values with explicitly set CLI flags.
func applyFlags(cfg *config.Config, o opts) {
	if o.Dir != "" {
		cfg.ReplayDir = o.Dir
	}
	if o.IncludeCPU {
		cfg.IncludeCPUEvents = true
	}
	if o.Port > 0 {
		cfg.FeedPort = o.Port
	}
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
	}
}

// monitorConfig converts file-level settings to monitor tuning.
func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		DebounceInterval: time.Duration(cfg.DebounceMs) * time.Millisecond,
		FlushInterval:    time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		PurgeDelay:       time.Duration(cfg.PurgeDelayMs) * time.Millisecond,
		BatchSize:        cfg.BatchSize,

		IncludeCPUEvents:  cfg.IncludeCPUEvents,
		MinComboMoves:     cfg.MinComboMoves,
		ComboWindowFrames: int32(cfg.ComboWindowFrames), //nolint:gosec // bounded by config validation
		HeartbeatFrames:   int32(cfg.HeartbeatFrames),   //nolint:gosec // bounded by config validation

		ThrottleStockLost:  time.Duration(cfg.ThrottleStockLostMs) * time.Millisecond,
		ThrottleComboLarge: time.Duration(cfg.ThrottleComboLargeMs) * time.Millisecond,
		ThrottleComboSmall: time.Duration(cfg.ThrottleComboSmallMs) * time.Millisecond,
		ThrottleTechnique:  time.Duration(cfg.ThrottleTechniqueMs) * time.Millisecond,
		ThrottleHeartbeat:  time.Duration(cfg.ThrottleHeartbeatMs) * time.Millisecond,
	}
}

// notifyParams maps config notification settings to notify.Params.
func notifyParams(cfg *config.Config) notify.Params {
	return notify.Params{
		Channels:      cfg.NotifyChannels,
		TimeoutMs:     cfg.NotifyTimeoutMs,
		TelegramToken: cfg.TelegramToken,
		TelegramChat:  cfg.TelegramChat,
		SlackToken:    cfg.SlackToken,
		SlackChannel:  cfg.SlackChannel,
		SMTPHost:      cfg.SMTPHost,
		SMTPPort:      cfg.SMTPPort,
		SMTPUsername:  cfg.SMTPUsername,
		SMTPPassword:  cfg.SMTPPassword,
		SMTPStartTLS:  cfg.SMTPStartTLS,
		EmailFrom:     cfg.EmailFrom,
		EmailTo:       cfg.EmailTo,
		WebhookURLs:   cfg.WebhookURLs,
		CustomScript:  cfg.CustomScript,
	}
}
