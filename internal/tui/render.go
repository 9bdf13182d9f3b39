package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hersh/duotris/internal/game"
	"github.com/hersh/duotris/internal/match"
	"github.com/hersh/duotris/internal/protocol"
	"github.com/hersh/duotris/internal/session"
)

// opponentRows is how many of the opponent's bottom rows the preview shows.
const opponentRows = 12

var (
	// colors is indexed by game.PieceType.
	colors = []string{
		"0",
		"51",  // I
		"226", // O
		"201", // T
		"46",  // S
		"196", // Z
		"21",  // J
		"208", // L
		"245", // garbage
	}

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("15"))

	infoStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	gameOverStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	winnerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))
)

func color(t game.PieceType) lipgloss.Color {
	if int(t) < 0 || int(t) >= len(colors) {
		return lipgloss.Color("248")
	}
	return lipgloss.Color(colors[t])
}

// cellString draws one square two columns wide.
func cellString(c game.Cell) string {
	switch {
	case c.Value == game.PieceNone:
		return "  "
	case c.Tag == game.TagGhost:
		return dimStyle.Render("[]")
	default:
		return lipgloss.NewStyle().Foreground(color(c.Value)).Render("██")
	}
}

// RenderBoard draws rows of the stage inside a border.
func RenderBoard(rows [][]game.Cell) string {
	var sb strings.Builder
	for y, row := range rows {
		for _, c := range row {
			sb.WriteString(cellString(c))
		}
		if y < len(rows)-1 {
			sb.WriteString("\n")
		}
	}
	return boardStyle.Render(sb.String())
}

// RenderPiece draws a piece in its spawn orientation, trimmed to its
// filled rows.
func RenderPiece(t game.PieceType) string {
	if t == game.PieceNone {
		return dimStyle.Render("-")
	}
	style := lipgloss.NewStyle().Foreground(color(t))
	var lines []string
	for _, row := range game.Shape(t) {
		var sb strings.Builder
		filled := false
		for _, on := range row {
			if on {
				sb.WriteString(style.Render("██"))
				filled = true
			} else {
				sb.WriteString("  ")
			}
		}
		if filled {
			lines = append(lines, sb.String())
		}
	}
	return strings.Join(lines, "\n")
}

// RenderGarbage draws the incoming garbage meter. A meter that can no
// longer be cancelled is shown in red.
func RenderGarbage(amount int, locked bool) string {
	if amount <= 0 {
		return ""
	}
	style := winnerStyle
	if locked {
		style = warnStyle
	}
	return style.Render(fmt.Sprintf("INCOMING %d %s", amount, strings.Repeat("▮", min(amount, 12))))
}

// RenderInfo is the side panel next to the local board.
func RenderInfo(v session.View) string {
	s := v.Self
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("DUOTRIS") + "\n\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Score: %d", s.Score)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Level: %d", s.Level)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Lines: %d", s.Lines)) + "\n")
	if s.Combo > 0 {
		sb.WriteString(infoStyle.Render(fmt.Sprintf("Combo: %d", s.Combo)) + "\n")
	}
	if s.B2B > 0 {
		sb.WriteString(infoStyle.Render(fmt.Sprintf("B2B: %d", s.B2B)) + "\n")
	}

	sb.WriteString("\n" + titleStyle.Render("HOLD") + "\n")
	hold := RenderPiece(s.Hold)
	if !s.CanHold && s.Hold != game.PieceNone {
		hold = dimStyle.Render(strings.Repeat("░░", 2))
	}
	sb.WriteString(hold + "\n\n")

	sb.WriteString(titleStyle.Render("NEXT") + "\n")
	for _, t := range s.Next {
		sb.WriteString(RenderPiece(t) + "\n")
	}

	if g := RenderGarbage(s.Garbage, s.GarbageLocked); g != "" {
		sb.WriteString("\n" + g + "\n")
	}
	return sb.String()
}

// RenderStatus shows the link, series score and any transient notices.
func RenderStatus(v session.View) string {
	var parts []string
	link := v.Link
	if v.Link == session.LinkRelay {
		link = warnStyle.Render(v.Link)
	}
	parts = append(parts, "link: "+link)
	if v.BestOf > 0 {
		parts = append(parts, fmt.Sprintf("game %d · best of %d · %d-%d", v.Game, v.BestOf, v.Wins, v.OpponentWins))
	}
	if v.Disconnect > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("opponent lost, forfeit in %ds", v.Disconnect)))
	}
	line := infoStyle.Render(strings.Join(parts, "  |  "))
	if v.Message != "" {
		line += "\n" + winnerStyle.Render(v.Message)
	}
	return line
}

// RenderOpponent draws the bottom of the opponent's field from its last
// snapshot.
func RenderOpponent(name string, opp protocol.SnapshotPayload, input string) string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().MaxWidth(game.BoardWidth).Foreground(lipgloss.Color("15")).Render(name) + "\n")

	rows := opp.Matrix
	if len(rows) > opponentRows {
		rows = rows[len(rows)-opponentRows:]
	}
	for _, row := range rows {
		for _, c := range row {
			if c.Value == game.PieceNone || c.Tag == game.TagGhost {
				sb.WriteString(dimStyle.Render("·"))
				continue
			}
			sb.WriteString(lipgloss.NewStyle().Foreground(color(c.Value)).Render("█"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(infoStyle.Render(fmt.Sprintf("S:%d L:%d", opp.Score, opp.Lines)))
	if input != "" {
		sb.WriteString("\n" + dimStyle.Render(input))
	}
	return sb.String()
}

func RenderCountdown(count int) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("51")).
		Align(lipgloss.Center).
		Render(fmt.Sprintf("\n\n\n     %d     \n\n\n", count))
}

func RenderMatchmaking() string {
	return titleStyle.Render("\n\n   Looking for an opponent...\n\n") +
		infoStyle.Render("   Press Q to leave")
}

// RenderGameOver announces the end of a practice game.
func RenderGameOver(score int, reason string) string {
	return gameOverStyle.
		Align(lipgloss.Center).
		Render(fmt.Sprintf("GAME OVER (%s)\nScore: %d\nR to restart", reason, score))
}

// RenderSeriesOver announces the series result.
func RenderSeriesOver(won bool, wins, losses int) string {
	if won {
		return winnerStyle.Render(fmt.Sprintf("YOU WIN THE SERIES %d-%d", wins, losses))
	}
	return gameOverStyle.Render(fmt.Sprintf("SERIES LOST %d-%d", wins, losses))
}

func RenderControls() string {
	return infoStyle.Render(`
Controls:
  ← →    Move left/right
  ↓      Soft drop
  Space  Hard drop
  ↑/X    Rotate clockwise
  Z      Rotate counter-clockwise
  A      Rotate 180
  C      Hold piece
  R      Restart (practice)
  Q      Quit
`)
}

// Render lays out a whole view.
func Render(v session.View) string {
	switch {
	case v.Phase == match.StateMatchmaking:
		return RenderMatchmaking()
	case v.Phase == match.StateCountdown && v.Countdown > 0:
		return lipgloss.JoinVertical(lipgloss.Left, RenderCountdown(v.Countdown), RenderStatus(v))
	case !v.HasSelf:
		return RenderStatus(v)
	}

	panes := []string{RenderBoard(v.Self.Stage.Visible()), RenderInfo(v)}
	if v.HasOpponent {
		panes = append(panes, lipgloss.NewStyle().Padding(0, 2).Render(RenderOpponent(v.OpponentName, v.Opponent, v.OpponentInput)))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, panes...)

	footer := RenderStatus(v)
	switch {
	case v.Phase == match.StateSeriesOver:
		footer = lipgloss.JoinVertical(lipgloss.Left, RenderSeriesOver(v.Wins > v.OpponentWins, v.Wins, v.OpponentWins), footer)
	case v.Phase == session.PhasePractice && v.Self.Over:
		footer = lipgloss.JoinVertical(lipgloss.Left, RenderGameOver(v.Self.Score, v.Self.Reason), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer, RenderControls())
}
