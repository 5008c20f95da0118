// Package notify plays the short cues the lifecycle emits as OS-native
// notifications.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/task"
)

// Kind is the lifecycle moment a cue marks.
type Kind string

const (
	KindExpired    Kind = "expired"
	KindCompleted  Kind = "completed"
	KindTerminated Kind = "terminated"
	KindCancelled  Kind = "cancelled"
)

// Notifier turns cues into desktop notifications. A disabled notifier only
// logs them.
type Notifier struct {
	enabled bool
	send    func(title, message string)
	log     *logging.Logger
}

// New creates a notifier backed by Send.
func New(enabled bool, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Nop()
	}
	return &Notifier{enabled: enabled, send: Send, log: log.WithComponent("notify")}
}

// Cue announces kind for the task in s. It never blocks.
func (n *Notifier) Cue(_ context.Context, kind Kind, s task.Snapshot) {
	title, message := Message(kind, s)
	n.log.WithTaskID(s.ID).WithField("cue", string(kind)).Debug("cue")
	if !n.enabled {
		return
	}
	n.send(title, message)
}

// Message renders the notification text for a cue.
func Message(kind Kind, s task.Snapshot) (title, message string) {
	switch kind {
	case KindExpired:
		return "Time's up", fmt.Sprintf("%s session of %d min is over. Verify to stop.", s.Category, s.CurrentMinutes)
	case KindCompleted:
		if s.Score != nil {
			return "Session complete", fmt.Sprintf("%s: %d min, score %d", s.Category, s.CurrentMinutes, s.Score.Total)
		}
		return "Session complete", fmt.Sprintf("%s: %d min", s.Category, s.CurrentMinutes)
	case KindTerminated:
		return "Session ended early", fmt.Sprintf("%s: %s of %d min", s.Category, formatSeconds(s.ElapsedSeconds), s.CurrentMinutes)
	case KindCancelled:
		return "Session cancelled", fmt.Sprintf("%s session discarded", s.Category)
	default:
		return "TimeStop", string(kind)
	}
}

func formatSeconds(secs int) string {
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Send shows an OS-native notification in the background:
// osascript on macOS, notify-send on Linux. It fails silently when the
// command is missing or the platform is unsupported.
func Send(title, message string) {
	cmd := command(runtime.GOOS, title, message)
	if cmd == nil {
		return
	}
	go func() {
		_ = cmd.Run()
	}()
}

func command(goos, title, message string) *exec.Cmd {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(message), escapeAppleScript(title))
		return exec.Command("osascript", "-e", script)
	case "linux":
		return exec.Command("notify-send", "--app-name=timestop", title, message)
	default:
		return nil
	}
}

// escapeAppleScript quotes s for use inside an AppleScript string literal.
func escapeAppleScript(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch ch {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
