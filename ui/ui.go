// Package ui provides the interactive queue player.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

const statusMessageTimeout = time.Second * 3 // how long to show status messages like "muted"

// Player is the part of the queue engine the UI drives.
type Player interface {
	Snapshot() queue.Snapshot
	Subscribe() (<-chan queue.Snapshot, func())
	Play(ctx context.Context) error
	PlayItem(ctx context.Context, id string, index int) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SetVolume(ctx context.Context, v float64)
	ToggleMute(ctx context.Context) bool
	CancelConversion() bool
	ResumeConversion(ctx context.Context, id, voice string) error
	MarkInteraction()
}

var _ Player = (*queue.Engine)(nil)

// NewProgram returns a new Tea program.
func NewProgram(ctx context.Context, cfg Config, player Player) *tea.Program {
	log.Debug("Starting player", "item", cfg.ItemID)

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	return tea.NewProgram(newModel(ctx, cfg, player), opts...)
}

type (
	snapshotMsg             queue.Snapshot
	subscriptionClosedMsg   struct{}
	statusMessageTimeoutMsg struct{}
	statusMsg               string
)

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type model struct {
	ctx    context.Context
	cfg    Config
	player Player

	snap     queue.Snapshot
	updates  <-chan queue.Snapshot
	stop     func()
	cursor   int
	width    int
	quitting bool

	statusMessage string
	statusTimer   *time.Timer
	lastErr       error

	spinner  spinner.Model
	progress progress.Model
	help     help.Model
}

func newModel(ctx context.Context, cfg Config, player Player) model {
	updates, stop := player.Subscribe()

	m := model{
		ctx:      ctx,
		cfg:      cfg,
		player:   player,
		snap:     player.Snapshot(),
		updates:  updates,
		stop:     stop,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:     help.New(),
	}
	m.cursor = max(m.snap.CurrentIndex, 0)
	for i, it := range m.snap.Items {
		if it.ID == cfg.ItemID {
			m.cursor = i
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForSnapshot(m.updates), m.spinner.Tick}
	if m.cfg.ItemID != "" {
		cmds = append(cmds, m.do(func(ctx context.Context) error {
			return m.player.PlayItem(ctx, m.cfg.ItemID, -1)
		}))
	}
	return tea.Batch(cmds...)
}

// waitForSnapshot delivers the next engine state change.
func waitForSnapshot(ch <-chan queue.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return subscriptionClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// do runs an engine operation off the update loop.
func (m model) do(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *model) showStatusMessage(msg string) tea.Cmd {
	m.statusMessage = msg
	if m.statusTimer != nil {
		m.statusTimer.Stop()
	}
	m.statusTimer = time.NewTimer(statusMessageTimeout)
	timer := m.statusTimer
	return func() tea.Msg {
		<-timer.C
		return statusMessageTimeoutMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = queue.Snapshot(msg)
		if n := len(m.snap.Items); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		return m, waitForSnapshot(m.updates)

	case subscriptionClosedMsg:
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		log.Debug("Player: Operation failed", "error", msg.err)
		return m, nil

	case statusMsg:
		return m, m.showStatusMessage(string(msg))

	case statusMessageTimeoutMsg:
		m.statusMessage = ""
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if m.cfg.MaxWidth > 0 {
			m.width = min(m.width, m.cfg.MaxWidth)
		}
		m.progress.Width = max(m.width-4, 10)
		m.help.Width = m.width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		m.stop()
		return m, tea.Quit
	}

	// every key press is a user gesture for the audio unlock gate
	m.player.MarkInteraction()
	m.lastErr = nil

	switch {
	case key.Matches(msg, keys.Play):
		return m, m.do(m.player.Play)
	case key.Matches(msg, keys.Next):
		return m, m.do(m.player.Next)
	case key.Matches(msg, keys.Previous):
		return m, m.do(m.player.Previous)
	case key.Matches(msg, keys.Up):
		m.cursor = max(m.cursor-1, 0)
	case key.Matches(msg, keys.Down):
		m.cursor = min(m.cursor+1, max(len(m.snap.Items)-1, 0))
	case key.Matches(msg, keys.Select):
		if it, ok := m.selected(); ok {
			id := it.ID
			return m, m.do(func(ctx context.Context) error { return m.player.PlayItem(ctx, id, -1) })
		}
	case key.Matches(msg, keys.Louder), key.Matches(msg, keys.Quieter):
		step := m.cfg.VolumeStep
		if key.Matches(msg, keys.Quieter) {
			step = -step
		}
		v := min(max(m.snap.Volume+step, 0), 1)
		m.player.SetVolume(m.ctx, v)
		return m, m.showStatusMessage(fmt.Sprintf("Volume %d%%", int(v*100+0.5)))
	case key.Matches(msg, keys.Mute):
		if m.player.ToggleMute(m.ctx) {
			return m, m.showStatusMessage("Muted")
		}
		return m, m.showStatusMessage("Unmuted")
	case key.Matches(msg, keys.Cancel):
		if m.player.CancelConversion() {
			return m, m.showStatusMessage("Conversion cancelled")
		}
	case key.Matches(msg, keys.Resume):
		return m, m.resume()
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// resume converts the missing segments of the selected item in the
// background.
func (m model) resume() tea.Cmd {
	it, ok := m.selected()
	if !ok {
		return nil
	}
	if it.Ready() == len(it.Segments) {
		return func() tea.Msg { return statusMsg("Nothing to convert") }
	}
	if m.snap.IsConverting {
		return func() tea.Msg { return errMsg{tts.ErrConversionInProgress} }
	}

	id, voice := it.ID, m.cfg.Voice
	return tea.Batch(
		func() tea.Msg { return statusMsg("Resuming conversion") },
		m.do(func(ctx context.Context) error { return m.player.ResumeConversion(ctx, id, voice) }),
	)
}

func (m model) selected() (queue.Item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Items) {
		return queue.Item{}, false
	}
	return m.snap.Items[m.cursor], true
}
