package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNoReplayDir is returned when no replay directory could be located.
var ErrNoReplayDir = errors.New("replay directory not found")

// DetectReplayDir locates the game client's replay directory for the host
// OS. It first checks the conventional default locations under the user
// home, then falls back to inspecting a running Slippi Dolphin process for
// an explicit user-dir argument.
func DetectReplayDir() (string, error) {
	for _, dir := range defaultReplayDirs() {
		if isDir(dir) {
			return dir, nil
		}
	}

	if dir := replayDirFromProcess(); dir != "" {
		return dir, nil
	}

	return "", ErrNoReplayDir
}

// defaultReplayDirs returns the conventional replay locations per OS.
func defaultReplayDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(home, "Documents", "Slippi"),
			filepath.Join(home, "Slippi"),
		}
	case "darwin":
		return []string{
			filepath.Join(home, "Slippi"),
			filepath.Join(home, "Library", "Application Support", "Slippi Launcher", "playback", "Slippi"),
		}
	default:
		return []string{
			filepath.Join(home, "Slippi"),
			filepath.Join(home, ".config", "SlippiOnline", "Slippi"),
		}
	}
}

// replayDirFromProcess scans running processes for a Slippi Dolphin
// instance and derives the replay directory from its -u user-dir flag.
// Best-effort: any failure just means no detection.
func replayDirFromProcess() string {
	procs, err := process.Processes()
	if err != nil {
		return ""
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(strings.ToLower(name), "dolphin") {
			continue
		}

		args, err := p.CmdlineSlice()
		if err != nil {
			continue
		}
		for i, arg := range args {
			if arg != "-u" || i+1 >= len(args) {
				continue
			}
			dir := filepath.Join(args[i+1], "Slippi")
			if isDir(dir) {
				return dir
			}
		}
	}
	return ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
