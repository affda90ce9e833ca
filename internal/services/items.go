package services

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// ParseVideoID extracts the video id from a bare id, a watch URL, a youtu.be link or a shorts link.
func ParseVideoID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if videoIDPattern.MatchString(s) {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: not a video id or url: %q", shared.ErrInvalidInput, s)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/live/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) >= 2 {
				id = parts[1]
			}
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", shared.ErrInvalidInput, s)
	}
	return id, nil
}

// ItemFromURL builds a pending item from a video URL or id.
func ItemFromURL(raw string) (models.Item, error) {
	id, err := ParseVideoID(raw)
	if err != nil {
		return models.Item{}, err
	}
	return models.Item{ID: id, URL: WatchURL(id), Status: models.StatusPending}, nil
}

// LoadItems reads work items from a file. The format follows the extension:
//
//   - .csv  : header row with id, url, title and duration (seconds) columns; id or url is required
//   - .json : array of objects with the same keys
//   - other : one video id or URL per line, "#" starts a comment
func LoadItems(path string) ([]models.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open items file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadItemsCSV(f)
	case ".json":
		return ReadItemsJSON(f)
	default:
		return ReadItemsText(f)
	}
}

type itemRow struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

func (r itemRow) item() (models.Item, error) {
	id, link := strings.TrimSpace(r.ID), strings.TrimSpace(r.URL)
	if id == "" {
		parsed, err := ParseVideoID(link)
		if err != nil {
			return models.Item{}, err
		}
		id = parsed
	}
	if link == "" {
		link = WatchURL(id)
	}

	return models.Item{
		ID:       id,
		URL:      link,
		Title:    strings.TrimSpace(r.Title),
		Duration: time.Duration(r.Duration * float64(time.Second)),
		Status:   models.StatusPending,
	}, nil
}

// ReadItemsCSV parses items from CSV with a header row.
func ReadItemsCSV(r io.Reader) ([]models.Item, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["id"]; !ok {
		if _, ok := cols["url"]; !ok {
			return nil, fmt.Errorf("%w: csv needs an id or url column", shared.ErrInvalidInput)
		}
	}

	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var items []models.Item
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		row := itemRow{ID: field(rec, "id"), URL: field(rec, "url"), Title: field(rec, "title")}
		if d := field(rec, "duration"); d != "" {
			secs, err := strconv.ParseFloat(d, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad duration %q", shared.ErrInvalidInput, line, d)
			}
			row.Duration = secs
		}

		item, err := row.item()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ReadItemsJSON parses items from a JSON array.
func ReadItemsJSON(r io.Reader) ([]models.Item, error) {
	var rows []itemRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse items JSON: %w", err)
	}

	items := make([]models.Item, 0, len(rows))
	for i, row := range rows {
		item, err := row.item()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ReadItemsText parses one id or URL per line.
func ReadItemsText(r io.Reader) ([]models.Item, error) {
	var items []models.Item
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		item, err := ItemFromURL(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	return items, nil
}
