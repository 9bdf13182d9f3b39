// Package tui renders a session in the terminal. It only reads views and
// forwards keys; all game state lives in the session.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/session"
)

// Session is the part of session.Session the TUI drives.
type Session interface {
	Views() <-chan session.View
	Done() <-chan struct{}
	Tap(a game.Action) error
	Restart() error
	Leave() error
}

type viewMsg session.View

type doneMsg struct{}

// Terminals report key presses only, so every key is a tap. Held keys
// repeat at the terminal's rate.
var keymap = map[string]game.Action{
	"left":  game.ActionLeft,
	"h":     game.ActionLeft,
	"right": game.ActionRight,
	"l":     game.ActionRight,
	"down":  game.ActionSoftDrop,
	"j":     game.ActionSoftDrop,
	" ":     game.ActionHardDrop,
	"up":    game.ActionRotateCW,
	"x":     game.ActionRotateCW,
	"z":     game.ActionRotateCCW,
	"a":     game.ActionRotate180,
	"c":     game.ActionHold,
}

type Model struct {
	sess    Session
	view    session.View
	hasView bool
	width   int
	height  int
	err     error
}

func NewModel(sess Session) Model {
	return Model{sess: sess}
}

func (m Model) Init() tea.Cmd {
	return waitView(m.sess)
}

func waitView(s Session) tea.Cmd {
	return func() tea.Msg {
		select {
		case v := <-s.Views():
			return viewMsg(v)
		case <-s.Done():
			return doneMsg{}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case viewMsg:
		m.view = session.View(msg)
		m.hasView = true
		if m.view.Exited {
			return m, tea.Quit
		}
		return m, waitView(m.sess)
	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		m.sess.Leave()
		return m, tea.Quit
	case "q":
		if err := m.sess.Leave(); err != nil {
			return m, tea.Quit
		}
		return m, nil
	case "r":
		m.err = m.sess.Restart()
		return m, nil
	}
	if a, ok := keymap[key]; ok {
		m.err = m.sess.Tap(a)
		if m.err != nil {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	if !m.hasView {
		return titleStyle.Render("DUOTRIS") + "\n\n" + infoStyle.Render("Starting...")
	}
	return Render(m.view)
}
