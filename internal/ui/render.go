package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/tasks"
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), value)
}

// RenderSummary formats the final snapshot of an orchestrator run.
func RenderSummary(snap tasks.Snapshot) string {
	rows := []string{
		row("Items", fmt.Sprintf("%d", snap.Total)),
		row("Stored", styles.ok.Render(fmt.Sprintf("%d", snap.Success))+fmt.Sprintf(" (%.1f%%)", snap.SuccessRate)),
		row("Failed", count(snap.Failed, styles.err)),
		row("Missing", count(snap.Missing, styles.warn)),
	}
	if snap.Abandoned > 0 {
		rows = append(rows, row("Abandoned", count(snap.Abandoned, styles.warn)))
	}
	if snap.Remaining > 0 {
		rows = append(rows, row("Not started", count(snap.Remaining, styles.warn)))
	}
	rows = append(rows,
		row("Audio", snap.TotalDuration.Round(time.Second).String()),
		row("Elapsed", snap.Elapsed.Round(time.Second).String()),
	)
	if snap.Success > 0 {
		rows = append(rows, row("Per item", snap.AvgPerSuccess.Round(time.Millisecond).String()))
	}

	return styles.title.Render("Run summary") + "\n" + strings.Join(rows, "\n")
}

// RenderSweep formats one retry sweep.
func RenderSweep(res tasks.SweepResult) string {
	if res.Found == 0 {
		return styles.help.Render("No failed records to retry.")
	}

	rows := []string{
		row("Found", fmt.Sprintf("%d", res.Found)),
		row("Recovered", styles.ok.Render(fmt.Sprintf("%d", res.Recovered))),
		row("Still failing", count(res.Failed, styles.err)),
		row("Missing", count(res.Missing, styles.warn)),
		row("Abandoned", count(res.Abandoned, styles.warn)),
	}
	if res.Errors > 0 {
		rows = append(rows, row("Write errors", count(res.Errors, styles.err)))
	}
	rows = append(rows, row("Took", res.Duration.Round(time.Millisecond).String()))

	return styles.title.Render("Retry sweep") + "\n" + strings.Join(rows, "\n")
}

// RenderCounts formats per-status record counts in [models.Statuses] order.
func RenderCounts(counts map[models.Status]int) string {
	total := 0
	rows := make([]string, 0, len(models.Statuses)+1)
	for _, s := range models.Statuses {
		n := counts[s]
		total += n
		rows = append(rows, row(s.String(), styles.status(s).Render(fmt.Sprintf("%d", n))))
	}
	rows = append(rows, row("total", fmt.Sprintf("%d", total)))

	return styles.title.Render("Records") + "\n" + strings.Join(rows, "\n")
}

// RenderStatus colors a status value.
func RenderStatus(s models.Status) string {
	return styles.status(s).Render(s.String())
}

// RenderDependencies formats a dependency report.
func RenderDependencies(r services.DependencyReport) string {
	rows := []string{
		dependency("chrome", r.ChromeFound, r.ChromePath),
		dependency("yt-dlp", r.ExtractorFound, r.ExtractorPath),
		dependency("ffmpeg", r.FFmpegFound, r.FFmpegPath),
	}
	return styles.title.Render("Dependencies") + "\n" + strings.Join(rows, "\n")
}

// RenderError formats an error for the terminal.
func RenderError(err error) string {
	return styles.err.Render("Error: ") + err.Error()
}

// RenderOK formats a success line.
func RenderOK(msg string) string {
	return styles.ok.Render("✓ ") + msg
}

func dependency(name string, found bool, path string) string {
	if !found {
		return row(name, styles.err.Render("✗ not found"))
	}
	return row(name, styles.ok.Render("✓ ")+path)
}

func count(n int, style lipgloss.Style) string {
	if n == 0 {
		return "0"
	}
	return style.Render(fmt.Sprintf("%d", n))
}
