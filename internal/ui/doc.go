// Package ui renders run summaries, sweep results and status tables for the terminal with lipgloss.
//
// Renderers return strings so the CLI decides where they go; colors degrade to plain text
// when the output is not a terminal.
package ui
