// Package ui provides terminal styling helpers for the CropGuard CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // cyan
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// RenderPass styles text for success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles text for warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles text for failures.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles text for informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted styles text for secondary detail.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader styles section headings.
func RenderHeader(s string) string { return headerStyle.Render(s) }
