package repl

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RoleSelector is a bubbletea model for interactively picking the
// active LLM role.
type RoleSelector struct {
	roles     []string
	current   string
	cursor    int
	selected  string
	cancelled bool
}

// NewRoleSelector creates a selector starting at the current role.
func NewRoleSelector(roles []string, current string) *RoleSelector {
	cursor := 0
	for i, r := range roles {
		if r == current {
			cursor = i
			break
		}
	}
	return &RoleSelector{
		roles:   roles,
		current: current,
		cursor:  cursor,
	}
}

// Init implements tea.Model
func (m *RoleSelector) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *RoleSelector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.roles)-1 {
				m.cursor++
			}
		case "enter":
			m.selected = m.roles[m.cursor]
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model
func (m *RoleSelector) View() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true)
	b.WriteString(headerStyle.Render("Select role:"))
	b.WriteString("\n")

	for i, role := range m.roles {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		marker := " "
		suffix := ""
		if role == m.current {
			marker = "•"
			suffix = " (current)"
		}

		line := fmt.Sprintf("%s %s %s%s", cursor, marker, role, suffix)

		if i == m.cursor {
			highlightStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("cyan"))
			line = highlightStyle.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	b.WriteString(hintStyle.Render("Use ↑/↓ to navigate, Enter to select, Esc to cancel"))

	return b.String()
}

// RunRoleSelector runs the interactive role selector and returns the
// chosen role, or "" when cancelled.
func RunRoleSelector(roles []string, current string) (string, error) {
	if len(roles) == 0 {
		return "", fmt.Errorf("no roles available")
	}

	m := NewRoleSelector(roles, current)
	p := tea.NewProgram(m)

	finalModel, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("error running selector: %w", err)
	}

	selector := finalModel.(*RoleSelector)
	if selector.cancelled {
		return "", nil
	}
	return selector.selected, nil
}
