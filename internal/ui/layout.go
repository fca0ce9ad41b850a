package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/redmine-bridge/internal/theme"
)

// Layout frames a full-screen view with a title bar and a status bar.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows left between the two bars.
func (l Layout) ContentHeight() int {
	h := l.Height - 2
	if h < 0 {
		return 0
	}
	return h
}

// FormWidth clamps the width used by forms to a readable range.
func (l Layout) FormWidth() int {
	w := l.Width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

// bar renders left and right text on a full-width line in style.
func (l Layout) bar(style lipgloss.Style, left, right string) string {
	leftRendered := style.Render(left)
	rightRendered := style.Align(lipgloss.Right).Render(right)

	gap := l.Width - lipgloss.Width(leftRendered) - lipgloss.Width(rightRendered)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, leftRendered, filler, rightRendered)
}

// Render composes the title bar, the content and the status bar.
func (l Layout) Render(title, step, content, hints string) string {
	body := theme.PanelStyle.
		Width(l.Width).
		Height(l.ContentHeight()).
		Render(content)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		l.bar(theme.HeaderStyle, title, step),
		body,
		l.bar(theme.StatusBarStyle, hints, ""),
	)
}
