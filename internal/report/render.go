package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/starford/timetrail/internal/apperr"
)

var (
	colorHeader = lipgloss.Color("#fe8019")
	colorDim    = lipgloss.Color("#928374")

	styleHeader = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
)

// Render formats r. An empty format renders a table.
func Render(r *Report, format Format, color bool) (string, error) {
	switch format {
	case "", FormatTable:
		return renderTable(r, color), nil
	case FormatJSON:
		return renderJSON(r)
	case FormatCSV:
		return renderCSV(r)
	case FormatMarkdown:
		return renderMarkdown(r), nil
	}
	return "", fmt.Errorf("report: unknown format %q: %w", format, apperr.ErrValidation)
}

// FormatDuration renders d rounded to the second, e.g. "1h2m0s".
func FormatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func (r *Report) headers() []string {
	if r.GroupBy == GroupNone {
		return []string{"Project", "Task", "Start", "End", "Status", "Duration", "Commits"}
	}
	return []string{strings.ToUpper(string(r.GroupBy[:1])) + string(r.GroupBy[1:]), "Entries", "Duration", "Commits"}
}

func (r *Report) cells(row Row) []string {
	if r.GroupBy == GroupNone {
		end := formatTime(row.End)
		if end == "" {
			end = "running"
		}
		return []string{row.Project, row.Task, formatTime(row.Start), end, string(row.Status),
			FormatDuration(row.Duration), strconv.Itoa(row.Commits)}
	}
	return []string{row.Key, strconv.Itoa(row.Entries), FormatDuration(row.Duration), strconv.Itoa(row.Commits)}
}

func (s Summary) String() string {
	return fmt.Sprintf("Total: %s across %d %s, %d linked %s",
		FormatDuration(s.TotalDuration), s.Count, plural(s.Count, s.Unit), s.TotalCommits, plural(s.TotalCommits, "commit"))
}

func plural(n int, word string) string {
	switch {
	case n == 1:
		return word
	case strings.HasSuffix(word, "y"):
		return strings.TrimSuffix(word, "y") + "ies"
	}
	return word + "s"
}

func renderTable(r *Report, color bool) string {
	t := ltable.New().
		Border(lipgloss.RoundedBorder()).
		Headers(r.headers()...)
	if color {
		t = t.BorderStyle(styleDim).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == ltable.HeaderRow {
					return styleHeader.Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	} else {
		t = t.StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	}
	for _, row := range r.Rows {
		t.Row(r.cells(row)...)
	}
	summary := r.Summary.String()
	if color {
		summary = styleDim.Render(summary)
	}
	return t.Render() + "\n" + summary + "\n"
}

type jsonRow struct {
	Row
	Duration        string  `json:"duration"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type jsonSummary struct {
	Summary
	TotalDuration        string  `json:"total_duration"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

type jsonReport struct {
	*Report
	Rows    []jsonRow   `json:"rows"`
	Summary jsonSummary `json:"summary"`
}

func renderJSON(r *Report) (string, error) {
	out := jsonReport{Report: r, Rows: make([]jsonRow, 0, len(r.Rows))}
	for _, row := range r.Rows {
		out.Rows = append(out.Rows, jsonRow{
			Row:             row,
			Duration:        FormatDuration(row.Duration),
			DurationSeconds: row.Duration.Round(time.Second).Seconds(),
		})
	}
	out.Summary = jsonSummary{
		Summary:              r.Summary,
		TotalDuration:        FormatDuration(r.Summary.TotalDuration),
		TotalDurationSeconds: r.Summary.TotalDuration.Round(time.Second).Seconds(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: encode json: %w", err)
	}
	return string(data) + "\n", nil
}

func renderCSV(r *Report) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var header []string
	if r.GroupBy == GroupNone {
		header = []string{"project", "task", "start", "end", "status", "duration_seconds", "commits"}
	} else {
		header = []string{string(r.GroupBy), "entries", "duration_seconds", "commits"}
	}
	records := [][]string{header}
	for _, row := range r.Rows {
		secs := strconv.FormatInt(int64(row.Duration.Round(time.Second)/time.Second), 10)
		if r.GroupBy == GroupNone {
			var start, end string
			if row.Start != nil {
				start = row.Start.Format(time.RFC3339)
			}
			if row.End != nil {
				end = row.End.Format(time.RFC3339)
			}
			records = append(records, []string{row.Project, row.Task, start, end, string(row.Status), secs, strconv.Itoa(row.Commits)})
			continue
		}
		records = append(records, []string{row.Key, strconv.Itoa(row.Entries), secs, strconv.Itoa(row.Commits)})
	}

	totalSecs := strconv.FormatInt(int64(r.Summary.TotalDuration.Round(time.Second)/time.Second), 10)
	trailer := make([]string, len(header))
	trailer[0] = "TOTAL"
	trailer[len(header)-2] = totalSecs
	trailer[len(header)-1] = strconv.Itoa(r.Summary.TotalCommits)
	if r.GroupBy != GroupNone {
		trailer[1] = strconv.Itoa(r.Summary.Count)
	} else {
		trailer[1] = strconv.Itoa(r.Summary.Count) + " " + plural(r.Summary.Count, r.Summary.Unit)
	}
	records = append(records, trailer)

	if err := w.WriteAll(records); err != nil {
		return "", fmt.Errorf("report: encode csv: %w", err)
	}
	return buf.String(), nil
}

func renderMarkdown(r *Report) string {
	var b strings.Builder
	b.WriteString("# Time report\n\n")
	if !r.From.IsZero() || !r.To.IsZero() {
		from, to := "the beginning", "now"
		if !r.From.IsZero() {
			from = r.From.Format("2006-01-02 15:04")
		}
		if !r.To.IsZero() {
			to = r.To.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "Window: %s to %s\n\n", from, to)
	}

	if len(r.Rows) == 0 {
		b.WriteString("No time was tracked in this window.\n\n")
	}
	for _, row := range r.Rows {
		if r.GroupBy == GroupNone {
			task := ""
			if row.Task != "" {
				task = " / " + row.Task
			}
			end := formatTime(row.End)
			if end == "" {
				end = "still running"
			}
			fmt.Fprintf(&b, "- **%s**%s: %s (%s to %s, %s), %d %s\n",
				row.Project, task, FormatDuration(row.Duration), formatTime(row.Start), end,
				row.Status, row.Commits, plural(row.Commits, "commit"))
			continue
		}
		fmt.Fprintf(&b, "- **%s**: %s over %d %s, %d %s\n",
			row.Key, FormatDuration(row.Duration), row.Entries, plural(row.Entries, "entry"),
			row.Commits, plural(row.Commits, "commit"))
	}
	if len(r.Rows) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**%s**\n", r.Summary.String())
	return b.String()
}
