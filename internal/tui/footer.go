package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Done    int
	Failed  int
	Running int
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	message    string
	isError    bool
	width      int
	taskCounts TaskCounts

	// Styles
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message; isError controls its color.
func (f *Footer) SetMessage(message string, isError bool) {
	f.message = message
	f.isError = isError
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetTaskCounts updates the task counts for display.
func (f *Footer) SetTaskCounts(counts TaskCounts) {
	f.taskCounts = counts
}

// View renders the footer.
func (f *Footer) View() string {
	var left string
	var right string

	// Left side: task counts and status message
	total := f.taskCounts.Done + f.taskCounts.Failed + f.taskCounts.Running
	if total > 0 {
		counts := fmt.Sprintf("✓%d", f.taskCounts.Done)
		if f.taskCounts.Failed > 0 {
			counts += f.errorStyle.Render(fmt.Sprintf(" ✗%d", f.taskCounts.Failed))
		}
		if f.taskCounts.Running > 0 {
			counts += fmt.Sprintf(" ⏳%d", f.taskCounts.Running)
		}
		left = counts
	}

	if f.message != "" {
		if f.isError {
			left = f.errorStyle.Render("✗ " + f.message)
		} else {
			left = f.hintStyle.Render(f.message)
		}
	}

	// Right side: keyboard hints
	right = f.keyboardHints()

	// Combine with spacing
	sep := f.separatorStyle.Render(" │ ")

	if left != "" && right != "" {
		return left + sep + right
	} else if left != "" {
		return left
	}
	return right
}

// keyboardHints returns the dashboard's fixed keyboard hints.
func (f *Footer) keyboardHints() string {
	return f.hintStyle.Render("←/→ switch team │ tab/1/2/3 switch view │ q quit")
}
