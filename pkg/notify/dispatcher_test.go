package notify

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipcoach/slipwatch/pkg/event"
	"github.com/slipcoach/slipwatch/pkg/replay"
)

func TestBatchDispatcher_NilService(t *testing.T) {
	d := NewBatchDispatcher(nil)
	events := []event.Event{event.NewSessionEnd(9000, "Fox vs Marth", "Battlefield", nil)}
	assert.NoError(t, d.Dispatch(context.Background(), events, event.Snapshot{}))
}

func TestBatchDispatcher_CustomScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}

	outFile := filepath.Join(t.TempDir(), "summary.json")
	script := filepath.Join(t.TempDir(), "notify.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat > "+outFile+"\n"), 0o700)) //nolint:gosec // test script must be executable

	svc, err := New(Params{Channels: []string{"custom"}, CustomScript: script}, &warnLogger{})
	require.NoError(t, err)

	d := NewBatchDispatcher(svc)
	events := []event.Event{
		event.NewStockLost(0, 100, 1, 3), // ignored, not a session end
		event.NewSessionEnd(9000, "Fox vs Marth", "Battlefield", []event.PlayerTotals{
			{Index: 0, Character: "Fox", StocksLost: 1},
		}),
	}
	require.NoError(t, d.Dispatch(context.Background(), events, event.Snapshot{}))

	data, err := os.ReadFile(outFile) //nolint:gosec // test output path
	require.NoError(t, err)
	assert.Contains(t, string(data), `"matchup":"Fox vs Marth"`)
	assert.Contains(t, string(data), `"stage":"Battlefield"`)
}

func TestFrameDuration(t *testing.T) {
	tests := []struct {
		name  string
		frame int32
		want  time.Duration
	}{
		{"match start", replay.FirstFrame, 0},
		{"one minute", replay.FirstFrame + 3600, time.Minute},
		{"before first frame", replay.FirstFrame - 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frameDuration(tt.frame))
		})
	}
}
