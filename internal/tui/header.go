package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Header renders the dashboard's title bar.
type Header struct {
	width int
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header.
func (h *Header) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#45B7D1")).
		Render("foreman")

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Italic(true).
		Render("team status")

	bar := lipgloss.NewStyle().
		Width(h.width).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("238")).
		Render(fmt.Sprintf("%s  %s", title, subtitle))

	return bar
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 2 // title line + border
}
