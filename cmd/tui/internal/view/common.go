package view

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Screen is implemented by every TUI view.
type Screen interface {
	tea.Model
	Title() string
	ShortHelp() string
}

type CommonModel struct {
	Width  int
	Height int
}

type BackMsg struct{}

func Back() tea.Msg {
	return BackMsg{}
}
