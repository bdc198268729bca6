package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/transcript"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	startingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	liveStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpKey        = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	helpText       = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

// View implements tea.Model.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("callcoach") + "  " + m.statusLine() + "\n\n")

	body := m.transcriptView(width - 4)
	if m.analysis != "" {
		body += "\n\n" + titleStyle.Render("Analyse") + "\n" + wrap(m.analysis, width-4)
	}
	b.WriteString(panelStyle.Width(width - 2).Render(body))
	b.WriteString("\n")

	switch {
	case m.naming:
		b.WriteString("Nom : " + string(m.name) + "█\n")
		b.WriteString(dimStyle.Render("Entrée pour sauvegarder, Échap pour annuler") + "\n")
	case m.busy != "":
		b.WriteString(startingStyle.Render(m.busy) + "\n")
	case m.notice != "" && m.noticeErr:
		b.WriteString(errStyle.Render(m.notice) + "\n")
	case m.notice != "":
		b.WriteString(okStyle.Render(m.notice) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(help())
	return b.String()
}

func (m Model) statusLine() string {
	mode := "transcription"
	if m.snap.Mode == session.ModeRoleplay {
		mode = "jeu de rôle"
	}
	var state string
	switch m.snap.State {
	case session.StateActive.String():
		if m.snap.Connected {
			state = activeStyle.Render("● EN DIRECT")
		} else {
			state = startingStyle.Render("◐ CONNEXION")
		}
	case session.StateStarting.String(), session.StateStopping.String():
		state = startingStyle.Render("◐ " + strings.ToUpper(m.snap.State))
	default:
		state = idleStyle.Render("○ ARRÊTÉ")
	}
	line := state + dimStyle.Render(" | "+mode)
	if m.snap.Pending > 0 {
		line += dimStyle.Render(fmt.Sprintf(" | %d trames en attente", m.snap.Pending))
	}
	if m.snap.LastError != "" {
		line += "\n" + errStyle.Render(m.snap.LastError)
	}
	return line
}

func (m Model) transcriptView(width int) string {
	if len(m.snap.Entries) == 0 {
		return dimStyle.Render("Aucune transcription pour le moment.")
	}
	lines := make([]string, 0, len(m.snap.Entries))
	for _, e := range m.snap.Entries {
		label := userStyle.Render("Vous")
		if e.Speaker == transcript.Assistant {
			label = assistantStyle.Render("Partenaire")
		}
		text := e.Text
		if !e.Final {
			text = liveStyle.Render(text)
		}
		lines = append(lines, label+" "+wrap(text, width-8))
	}
	// Keep the newest turns on screen.
	if m.height > 0 {
		keep := max(m.height-10, 3)
		if len(lines) > keep {
			lines = lines[len(lines)-keep:]
		}
	}
	return strings.Join(lines, "\n")
}

func help() string {
	keys := []struct{ key, desc string }{
		{"espace", "démarrer/arrêter"},
		{"a", "analyser"},
		{"s", "sauvegarder"},
		{"c", "copier"},
		{"e", "exporter"},
		{"p", "PDF"},
		{"q", "quitter"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKey.Render(k.key) + helpText.Render(" "+k.desc)
	}
	return strings.Join(parts, helpText.Render(" · "))
}

func wrap(text string, width int) string {
	if width < 10 {
		width = 10
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}
