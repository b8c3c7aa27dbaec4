package main

import (
	"github.com/charmbracelet/lipgloss"

	"tellolink/pkg/link"
	"tellolink/pkg/protocol"
)

var (
	colorFg      = lipgloss.Color("#EDEDED")
	colorMuted   = lipgloss.Color("#666666")
	colorBorder  = lipgloss.Color("#333333")
	colorRunning = lipgloss.Color("#0070F3")
	colorSuccess = lipgloss.Color("#50E3C2")
	colorError   = lipgloss.Color("#EE0000")
	colorWarning = lipgloss.Color("#F5A623")
)

var (
	containerStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFg)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(11)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorFg)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(colorRunning).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)
)

func renderState(s link.State) string {
	switch s {
	case link.Connected:
		return successStyle.Render(s.String())
	case link.Handshaking:
		return runningStyle.Render(s.String())
	case link.Halting:
		return warningStyle.Render(s.String())
	case link.Closed:
		return errorStyle.Render(s.String())
	default:
		return mutedStyle.Render(s.String())
	}
}

func renderFlag(on bool, yes string, no string) string {
	if on {
		return successStyle.Render(yes)
	}
	return mutedStyle.Render(no)
}

func renderAck(text string) string {
	switch protocol.ClassifyAck(text) {
	case protocol.AckSuccess:
		return successStyle.Render(text)
	case protocol.AckError:
		return errorStyle.Render(text)
	default:
		return warningStyle.Render(text)
	}
}

func renderRow(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}
