package main

import "github.com/charmbracelet/lipgloss"

var (
	passColor   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#04B575"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFA500"}
	failColor   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF4B4B"}
	accentColor = lipgloss.AdaptiveColor{Light: "#4527A0", Dark: "#7D56F4"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#666666"}

	passStyle   = lipgloss.NewStyle().Foreground(passColor).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }
