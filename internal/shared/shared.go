// package shared defines shared helpers
package shared

import (
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// MaxTitleLength caps cleaned titles, counted in runes.
const MaxTitleLength = 150

var unsafeTitleChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// CleanTitle strips characters that are not safe in file names, trims whitespace
// and caps the result at [MaxTitleLength] runes.
func CleanTitle(title string) string {
	cleaned := strings.TrimSpace(unsafeTitleChars.ReplaceAllString(title, ""))
	runes := []rune(cleaned)
	if len(runes) > MaxTitleLength {
		cleaned = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return cleaned
}

// MarshalJSON encodes v, indenting with two spaces when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
