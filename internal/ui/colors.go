package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/ytaudio/internal/models"
)

// labelWidth fits the longest status name, missing_local_audio, plus padding.
const labelWidth = 22

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	label lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		label: NewStyle(h).Width(labelWidth),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// status returns the style used for an item status.
func (p *Palette) status(s models.Status) lipgloss.Style {
	switch s {
	case models.StatusSuccess:
		return p.ok
	case models.StatusFailed:
		return p.err
	case models.StatusMissingLocalAudio, models.StatusAbandoned:
		return p.warn
	default:
		return p.help
	}
}
