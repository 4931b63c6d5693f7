package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/services/audit"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchBusyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// watchFeed turns session events into a coalesced wake-up signal for the TUI.
// The model re-reads the session snapshot on every wake-up, so dropped
// signals never lose state.
type watchFeed struct {
	changed      chan struct{}
	done         chan struct{}
	unauthorized atomic.Bool
}

func newWatchFeed() *watchFeed {
	return &watchFeed{
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (f *watchFeed) emit(event string, payload interface{}) { f.notify() }

func (f *watchFeed) onUnauthorized(err error) {
	f.unauthorized.Store(true)
	f.notify()
}

func (f *watchFeed) notify() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *watchFeed) close() { close(f.done) }

func (f *watchFeed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.changed:
			return watchChangedMsg{}
		case <-f.done:
			return nil
		}
	}
}

type watchChangedMsg struct{}

type watchOpenedMsg struct{ err error }

type watchRefreshedMsg struct{ err error }

type watchModel struct {
	jobID    string
	feed     *watchFeed
	open     func() error
	refresh  func() error
	snapshot func() audit.Snapshot

	snap       audit.Snapshot
	opened     bool
	refreshing bool
	err        error
	width      int
}

func watchJob(configPath, jobID string) error {
	if !stdinIsTTY() {
		return errors.New("watch requires an interactive terminal (TTY)")
	}

	feed := newWatchFeed()
	e, err := openEnv(configPath, feed.emit, feed.onUnauthorized)
	if err != nil {
		return err
	}
	defer e.Close()

	// Log lines would tear the alt screen
	logrus.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := e.service.NewSession()
	defer e.service.ReleaseSession(session)
	defer feed.close()

	m := watchModel{
		jobID:    jobID,
		feed:     feed,
		open:     func() error { return session.Open(ctx, jobID) },
		refresh:  func() error { return session.RefreshForeground(ctx) },
		snapshot: session.Snapshot,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(watchModel); ok {
		fmt.Println(fm.summaryLine())
	}
	return nil
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.openCmd(), m.feed.wait())
}

func (m watchModel) openCmd() tea.Cmd {
	return func() tea.Msg { return watchOpenedMsg{err: m.open()} }
}

func (m watchModel) refreshCmd() tea.Cmd {
	return func() tea.Msg { return watchRefreshedMsg{err: m.refresh()} }
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.opened || m.refreshing {
				return m, nil
			}
			m.refreshing = true
			return m, m.refreshCmd()
		}
		return m, nil
	case watchOpenedMsg:
		m.opened = true
		m.err = msg.err
		m.snap = m.snapshot()
		return m, nil
	case watchRefreshedMsg:
		m.refreshing = false
		m.err = msg.err
		m.snap = m.snapshot()
		return m, nil
	case watchChangedMsg:
		m.snap = m.snapshot()
		return m, m.feed.wait()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("DeFi audit " + m.jobID))
	b.WriteString("\n\n")

	if !m.opened {
		b.WriteString(watchMutedStyle.Render("Loading report..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	switch {
	case m.snap.Gone:
		b.WriteString(watchErrorStyle.Render("This audit no longer exists on the server."))
		b.WriteString("\n")
	case m.snap.Report == nil:
		b.WriteString(watchMutedStyle.Render("Waiting for the first response..."))
		b.WriteString("\n")
	case m.snap.Status == defi.StatusFailed:
		b.WriteString(watchErrorStyle.Render("Audit failed: " + firstNonEmpty(m.snap.Report.Error, "no reason given")))
		b.WriteString("\n")
	case m.snap.Status == defi.StatusCompleted:
		b.WriteString(renderSummary(m.snap.Report.Summary))
		b.WriteString("\n")
		b.WriteString(renderBreakdown("Chain", m.snap.Breakdowns.ByChain))
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			renderBreakdown("Type", m.snap.Breakdowns.ByType),
			"  ",
			renderTokenBreakdown(m.snap.Breakdowns.ByToken),
		))
		b.WriteString("\n")
	default:
		b.WriteString(watchMutedStyle.Render("Audit is processing. Results appear when it completes."))
		b.WriteString("\n")
	}

	if msg := m.errorText(); msg != "" {
		b.WriteString("\n")
		b.WriteString(watchErrorStyle.Render(msg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(watchMutedStyle.Render("r refresh • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) statusLine() string {
	var status string
	switch m.snap.Status {
	case defi.StatusCompleted:
		status = watchOKStyle.Render(string(m.snap.Status))
	case defi.StatusFailed:
		status = watchErrorStyle.Render(string(m.snap.Status))
	case "":
		status = watchMutedStyle.Render("unknown")
	default:
		status = watchBusyStyle.Render(string(m.snap.Status))
	}

	line := "status: " + status + "   elapsed: " + firstNonEmpty(m.snap.Elapsed, "0:00")
	if m.snap.Polling {
		line += watchMutedStyle.Render("   (polling)")
	}
	if m.refreshing {
		line += watchMutedStyle.Render("   refreshing...")
	}
	return line
}

func (m watchModel) errorText() string {
	if m.feed != nil && m.feed.unauthorized.Load() {
		return "API token rejected. Update api_token or DEFI_AUDIT_TOKEN and rerun."
	}
	if m.err != nil {
		return m.err.Error()
	}
	return m.snap.LastError
}

func (m watchModel) summaryLine() string {
	status := firstNonEmpty(string(m.snap.Status), "unknown")
	if m.snap.Gone {
		status = "deleted"
	}
	return fmt.Sprintf("audit %s: %s (elapsed %s)", m.jobID, status, firstNonEmpty(m.snap.Elapsed, "0:00"))
}
