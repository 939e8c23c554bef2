package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/sigreer/devhistory/internal/device"
	"github.com/sigreer/devhistory/internal/monitor"
	"github.com/sigreer/devhistory/internal/version"
)

// terminal renders monitor output as plain lines, styled when attached to a TTY
type terminal struct {
	out    io.Writer
	styled bool
	loc    *time.Location

	banner     lipgloss.Style
	connect    lipgloss.Style
	disconnect lipgloss.Style
	dim        lipgloss.Style
	warn       lipgloss.Style
}

func newTerminal(f *os.File) *terminal {
	return newTerminalWriter(f, term.IsTerminal(int(f.Fd())))
}

func newTerminalWriter(out io.Writer, styled bool) *terminal {
	return &terminal{
		out:        out,
		styled:     styled,
		loc:        time.Local,
		banner:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD")),
		connect:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B")),
		disconnect: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555")),
		dim:        lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")),
		warn:       lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
	}
}

func (t *terminal) render(s lipgloss.Style, text string) string {
	if !t.styled {
		return text
	}
	return s.Render(text)
}

func (t *terminal) printBanner() {
	title := fmt.Sprintf("devhistory %s - USB device monitor", version.Version)
	fmt.Fprintln(t.out, t.render(t.banner, title))
	fmt.Fprintln(t.out, t.render(t.dim, strings.Repeat("=", len(title))))
}

func (t *terminal) printDevices(devs []device.ObservedDevice) {
	fmt.Fprintf(t.out, "Currently connected (%d):\n", len(devs))
	for _, d := range devs {
		fmt.Fprintf(t.out, "  %s%s\n", d.Name, t.render(t.dim, vidPidSuffix(d.VidPid)))
	}
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.render(t.dim, "Watching for changes, Ctrl+C to exit"))
}

// eventLine formats one transition as "[HH:MM:SS] ▲ CONNECT   name [vid:pid]"
func (t *terminal) eventLine(ev device.Event) string {
	stamp := ev.Timestamp.In(t.loc).Format("15:04:05")
	var label string
	if ev.Kind == device.KindDisconnect {
		label = t.render(t.disconnect, "▼ DISCONNECT")
	} else {
		label = t.render(t.connect, "▲ CONNECT   ")
	}
	return fmt.Sprintf("[%s] %s %s%s", stamp, label, ev.Name, vidPidSuffix(ev.VidPid))
}

func (t *terminal) printEvent(ev device.Event) {
	fmt.Fprintln(t.out, t.eventLine(ev))
}

func (t *terminal) printNotice(text string) {
	fmt.Fprintln(t.out, t.render(t.warn, "! "+text))
}

func vidPidSuffix(vp *string) string {
	if vp == nil || *vp == "" {
		return ""
	}
	return " [" + *vp + "]"
}

// follower prints events not yet shown. The log only grows between clears,
// so the last printed id locates the new tail.
type follower struct {
	term    *terminal
	lastID  string
	lastErr string
	lastWrn string
}

// prime marks everything in s as already shown
func (f *follower) prime(s *monitor.Snapshot) {
	if n := len(s.Events); n > 0 {
		f.lastID = s.Events[n-1].ID
	}
	f.lastErr = s.Error
	f.lastWrn = s.Warning
}

func (f *follower) update(s *monitor.Snapshot) {
	// an id that is no longer present means the log was cleared
	start := 0
	if f.lastID != "" {
		for i := len(s.Events) - 1; i >= 0; i-- {
			if s.Events[i].ID == f.lastID {
				start = i + 1
				break
			}
		}
	}
	for _, ev := range s.Events[start:] {
		f.term.printEvent(ev)
	}
	if n := len(s.Events); n > 0 {
		f.lastID = s.Events[n-1].ID
	} else {
		f.lastID = ""
	}

	if s.Error != f.lastErr && s.Error != "" {
		f.term.printNotice("enumeration failed: " + s.Error)
	}
	f.lastErr = s.Error
	if s.Warning != f.lastWrn && s.Warning != "" {
		f.term.printNotice("persistence: " + s.Warning)
	}
	f.lastWrn = s.Warning
}
