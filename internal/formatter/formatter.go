// package formatter provides functions to export item records to various formats (CSV, JSON, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

// Formats lists the export formats understood by [ExportRecords].
var Formats = []string{"csv", "json", "txt"}

var csvHeaders = []string{
	"ID", "URL", "Title", "Duration", "Status", "ObjectKey",
	"Attempts", "RetryAttempts", "CompletedAt", "Error",
}

// ExportToCSV converts records to CSV format with columns: ID, URL, Title, Duration, Status,
// ObjectKey, Attempts, RetryAttempts, CompletedAt, Error
func ExportToCSV(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ItemID,
			rec.URL,
			rec.Title,
			strconv.FormatInt(int64(rec.Duration/time.Second), 10),
			rec.Status.String(),
			rec.ObjectKey,
			strconv.Itoa(rec.Attempts),
			strconv.Itoa(rec.RetryAttempts),
			formatTime(rec.CompletedAt),
			rec.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts records to an indented JSON array
func ExportToJSON(records []models.Record) ([]byte, error) {
	if records == nil {
		records = []models.Record{}
	}
	return shared.MarshalJSON(records, true)
}

// ExportToText converts records to plain text format, one line per record
func ExportToText(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Records: %d\n\n", len(records)))
	for i, rec := range records {
		buf.WriteString(fmt.Sprintf("%d. [%s] %s", i+1, rec.Status, rec.ItemID))
		if rec.Title != "" {
			buf.WriteString(" - " + rec.Title)
		}
		if rec.Duration > 0 {
			buf.WriteString(fmt.Sprintf(" [%s]", FormatDuration(rec.Duration)))
		}
		if rec.ObjectKey != "" {
			buf.WriteString(" -> " + rec.ObjectKey)
		}
		if rec.ErrorMessage != "" && rec.Status != models.StatusSuccess {
			buf.WriteString(fmt.Sprintf("\n   error: %s", rec.ErrorMessage))
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportRecords renders records in format (csv, json or txt)
func ExportRecords(records []models.Record, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "csv":
		return ExportToCSV(records)
	case "json":
		return ExportToJSON(records)
	case "txt", "text":
		return ExportToText(records)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q (want one of %s)", shared.ErrInvalidArgument, format, strings.Join(Formats, ", "))
	}
}

// WriteRecordsExport exports records to a file.
//
// Defaults to records_{epoch}.{format} as the filename. Parent directories are created.
func WriteRecordsExport(records []models.Record, format, path string) (string, error) {
	data, err := ExportRecords(records, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = fmt.Sprintf("records_%d.%s", time.Now().Unix(), strings.ToLower(format))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// RecordDetail renders a single record and its failure history as text
func RecordDetail(rec models.Record, failures []models.FailureEntry) []byte {
	var buf bytes.Buffer

	field := func(name, value string) {
		if value != "" {
			buf.WriteString(fmt.Sprintf("%-15s %s\n", name+":", value))
		}
	}

	field("ID", rec.ItemID)
	field("URL", rec.URL)
	field("Title", rec.Title)
	if rec.Duration > 0 {
		field("Duration", FormatDuration(rec.Duration))
	}
	field("Status", rec.Status.String())
	field("Object key", rec.ObjectKey)
	field("Local path", rec.LocalPath)
	field("Attempts", strconv.Itoa(rec.Attempts))
	field("Retries", strconv.Itoa(rec.RetryAttempts))
	field("Last attempt", formatTime(rec.LastAttempt))
	field("Last retry", formatTime(rec.LastRetry))
	field("Completed", formatTime(rec.CompletedAt))
	field("Error", rec.ErrorMessage)
	field("Created", rec.Created.Format(time.RFC3339))
	field("Updated", rec.Updated.Format(time.RFC3339))

	if len(failures) > 0 {
		buf.WriteString(fmt.Sprintf("\nFailure log (%d):\n", len(failures)))
		for _, f := range failures {
			buf.WriteString(fmt.Sprintf("  %s [%s] %s\n", f.CreatedAt.Format(time.RFC3339), f.Status, f.Message))
		}
	}
	return buf.Bytes()
}

// ObjectsToText renders an object listing, one key per line with size and modification time
func ObjectsToText(objects []models.ObjectInfo) []byte {
	var buf bytes.Buffer
	for _, obj := range objects {
		buf.WriteString(fmt.Sprintf("%-40s %10s  %s\n", obj.Key, FormatBytes(obj.Size), obj.LastModified.Format(time.RFC3339)))
	}
	return buf.Bytes()
}

// FormatDuration renders d as m:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
