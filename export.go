package kanshilog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

// Format selects the serialization used by the exporter.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// csvColumns is the fixed column order of CSV exports.
var csvColumns = []string{"timestamp", "level", "levelName", "message", "source", "sessionId", "context"}

// Exporter produces downloadable JSON/CSV representations of stored logs.
// Download* methods write into dir using the dashboard's filename scheme
// and return the written path.
type Exporter struct {
	store Store
	dir   string
	now   func() time.Time
}

// NewExporter creates an exporter writing files under dir.
func NewExporter(store Store, dir string) *Exporter {
	return &Exporter{store: store, dir: dir, now: time.Now}
}

// WriteLogs serializes the entries matching f to w in the given format.
func (e *Exporter) WriteLogs(ctx context.Context, w io.Writer, f Filter, format Format) error {
	entries, err := e.store.Query(ctx, f)
	if err != nil {
		return err
	}
	return writeEntries(w, entries, format)
}

func writeEntries(w io.Writer, entries []Entry, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []Entry{}
		}
		return enc.Encode(entries)
	case FormatCSV:
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// writeCSV emits the fixed column set with every field double-quoted and
// internal quotes doubled. encoding/csv is not used because it only quotes
// fields that need it, while the dashboard contract quotes all of them.
func writeCSV(w io.Writer, entries []Entry) error {
	var b strings.Builder
	writeRow := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}

	writeRow(csvColumns)
	for _, entry := range entries {
		ctxJSON := "{}"
		if len(entry.Context) > 0 {
			data, err := json.Marshal(entry.Context)
			if err != nil {
				return fmt.Errorf("encode context: %w", err)
			}
			ctxJSON = string(data)
		}
		writeRow([]string{
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			fmt.Sprintf("%d", entry.Level),
			entry.LevelName,
			entry.Message,
			entry.Source,
			entry.SessionID,
			ctxJSON,
		})
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// DownloadTodaysLogs writes all entries from the current UTC day as
// {date}-app.log.{format}.
func (e *Exporter) DownloadTodaysLogs(ctx context.Context, format Format) (string, error) {
	day := e.now().UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	name := fmt.Sprintf("%s-app.log.%s", start.Format("2006-01-02"), format)
	return e.download(ctx, name, Filter{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Nanosecond)}, format)
}

// DownloadLogsByDateRange writes entries in [start, end] inclusive as
// {date}-app.log.{format}, dated by the range start.
func (e *Exporter) DownloadLogsByDateRange(ctx context.Context, start, end time.Time, format Format) (string, error) {
	name := fmt.Sprintf("%s-app.log.%s", start.UTC().Format("2006-01-02"), format)
	return e.download(ctx, name, Filter{Start: start, End: end}, format)
}

// DownloadLogsByLevel writes entries of one level as
// {date}-{levelName}.log.{format}.
func (e *Exporter) DownloadLogsByLevel(ctx context.Context, lv Level, format Format) (string, error) {
	name := fmt.Sprintf("%s-%s.log.%s", e.now().UTC().Format("2006-01-02"), lv.String(), format)
	return e.download(ctx, name, Filter{Level: &lv}, format)
}

// DownloadFullArchive writes the complete entry set as
// {timestamp}-full-archive.log.{format}.
func (e *Exporter) DownloadFullArchive(ctx context.Context, format Format) (string, error) {
	name := fmt.Sprintf("%s-full-archive.log.%s", e.fileTimestamp(), format)
	return e.download(ctx, name, Filter{}, format)
}

func (e *Exporter) download(ctx context.Context, name string, f Filter, format Format) (string, error) {
	if err := os.MkdirAll(e.dir, 0700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(e.dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := e.WriteLogs(ctx, out, f, format); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}

// fileTimestamp is the colon-free UTC timestamp used in archive names.
func (e *Exporter) fileTimestamp() string {
	return e.now().UTC().Format("2006-01-02T15-04-05Z")
}

// LogFileInfo is a synthetic per-day file descriptor.
type LogFileInfo struct {
	Name              string         `json:"name"`
	Date              string         `json:"date"` // UTC calendar day, 2006-01-02
	EntryCount        int            `json:"entryCount"`
	Size              int            `json:"size"` // serialized-length proxy
	LevelDistribution map[string]int `json:"levelDistribution"`
	CreatedAt         time.Time      `json:"createdAt"` // earliest entry of the day
}

// FileList groups all stored entries by UTC calendar day, newest day first.
// Every descriptor carries counts for all four levels, zero-filled.
func (e *Exporter) FileList(ctx context.Context) ([]LogFileInfo, error) {
	entries, err := e.store.Query(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string][]Entry)
	var days []string
	for _, entry := range entries {
		day := entry.Timestamp.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], entry)
	}

	out := make([]LogFileInfo, 0, len(days))
	for _, day := range days {
		group := byDay[day]
		info := LogFileInfo{
			Name:              day + "-app.log",
			Date:              day,
			EntryCount:        len(group),
			Size:              estimateSize(group),
			LevelDistribution: levelDistribution(group),
		}
		for _, entry := range group {
			if info.CreatedAt.IsZero() || entry.Timestamp.Before(info.CreatedAt) {
				info.CreatedAt = entry.Timestamp
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// levelDistribution counts entries per level name with all levels present.
func levelDistribution(entries []Entry) map[string]int {
	dist := make(map[string]int, len(Levels))
	for _, lv := range Levels {
		dist[lv.String()] = 0
	}
	for _, e := range entries {
		dist[e.Level.String()]++
	}
	return dist
}

// SummaryReport combines stats, distributions, and recent errors.
type SummaryReport struct {
	GeneratedAt        time.Time      `json:"generatedAt"`
	Stats              StorageStats   `json:"stats"`
	LevelDistribution  map[string]int `json:"levelDistribution"`
	SourceDistribution map[string]int `json:"sourceDistribution"`
	RecentErrors       []Entry        `json:"recentErrors"`
}

// SummaryReport builds the report document from the current store state.
func (e *Exporter) SummaryReport(ctx context.Context) (SummaryReport, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return SummaryReport{}, err
	}
	entries, err := e.store.Query(ctx, Filter{})
	if err != nil {
		return SummaryReport{}, err
	}

	sources := make(map[string]int)
	for _, entry := range entries {
		if entry.Source != "" {
			sources[entry.Source]++
		}
	}

	lv := LevelError
	recent, err := e.store.Query(ctx, Filter{Level: &lv, Limit: 10})
	if err != nil {
		return SummaryReport{}, err
	}
	if recent == nil {
		recent = []Entry{}
	}

	return SummaryReport{
		GeneratedAt:        e.now().UTC(),
		Stats:              stats,
		LevelDistribution:  levelDistribution(entries),
		SourceDistribution: sources,
		RecentErrors:       recent,
	}, nil
}

// DownloadSummaryReport writes the report as
// {timestamp}-log-summary-report.json and returns the path.
func (e *Exporter) DownloadSummaryReport(ctx context.Context) (string, error) {
	report, err := e.SummaryReport(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(e.dir, e.fileTimestamp()+"-log-summary-report.json")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return path, nil
}
