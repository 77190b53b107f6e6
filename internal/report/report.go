package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/mapscrape/internal/storage"
)

// Format selects how a Summary is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatNone Format = "none"
)

// ParseFormat maps a flag value to a Format; empty selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatHTML, FormatNone:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Run is what the pipeline knows about a finished run besides its records.
type Run struct {
	RunID       string
	Query       string
	Target      int
	Available   int
	Scrolls     int
	Stalled     bool
	Partial     bool
	ProbeSource string
	OutputPath  string
	SinkErrors  map[string]int
	Start       time.Time
	End         time.Time
}

// Summary contains aggregated statistics about one scrape run.
type Summary struct {
	RunID     string `json:"run_id"`
	Query     string `json:"query"`
	Target    int    `json:"target"`
	Available int    `json:"available"`
	Records   int    `json:"records"`
	// Complete counts records with all three fields present.
	Complete    int            `json:"complete"`
	EmptyFields map[string]int `json:"empty_fields"`
	Scrolls     int            `json:"scrolls"`
	Stalled     bool           `json:"stalled"`
	Partial     bool           `json:"partial"`
	ProbeSource string         `json:"probe_source,omitempty"`
	SinkErrors  map[string]int `json:"sink_errors,omitempty"`
	OutputPath  string         `json:"output_path"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Duration    time.Duration  `json:"duration"`
}

// Summarize combines run facts with per-field statistics over records.
func Summarize(run Run, records []storage.Record) Summary {
	s := Summary{
		RunID:       run.RunID,
		Query:       run.Query,
		Target:      run.Target,
		Available:   run.Available,
		Records:     len(records),
		EmptyFields: map[string]int{"name": 0, "address": 0, "rating": 0},
		Scrolls:     run.Scrolls,
		Stalled:     run.Stalled,
		Partial:     run.Partial,
		ProbeSource: run.ProbeSource,
		SinkErrors:  run.SinkErrors,
		OutputPath:  run.OutputPath,
		StartTime:   run.Start,
		EndTime:     run.End,
	}
	if !run.End.IsZero() {
		s.Duration = run.End.Sub(run.Start)
	}

	for _, r := range records {
		complete := true
		if r.Name == "" {
			s.EmptyFields["name"]++
			complete = false
		}
		if r.Address == "" {
			s.EmptyFields["address"]++
			complete = false
		}
		if r.Rating == "" {
			s.EmptyFields["rating"]++
			complete = false
		}
		if complete {
			s.Complete++
		}
	}
	return s
}

// Write renders summary in format. FormatNone writes nothing.
func Write(w io.Writer, format Format, summary Summary) error {
	switch format {
	case FormatText, "":
		return WriteText(w, summary)
	case FormatJSON:
		return WriteJSON(w, summary)
	case FormatHTML:
		return WriteHTML(w, summary)
	case FormatNone:
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Map Scrape Summary
------------------
Run:           {{.RunID}}
Query:         {{.Query}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Loaded:        {{.Available}} items ({{.Target}} requested, {{.Scrolls}} scrolls)
{{- if .Stalled}}
               panel stopped growing
{{- end}}
{{- if .Partial}}
               partial load after a driver error
{{- end}}
Records:       {{.Records}} ({{.Complete}} complete)
{{- if .ProbeSource}}
Probe:         {{.ProbeSource}}
{{- end}}
Output:        {{.OutputPath}}

Empty Fields:
{{- range $field, $count := .EmptyFields}}
  {{$field}}: {{$count}}
{{- end}}

Sink Errors:
{{- range $sink, $count := .SinkErrors}}
  {{$sink}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Map Scrape Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Map Scrape Report</h1>
  <p><strong>Query:</strong> {{.Query}} <small>({{.RunID}})</small></p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Loaded</div>
    <div class="stat-val">{{.Available}} / {{.Target}}</div>
  </div>
  <div class="stat-card">
    <div>Records</div>
    <div class="stat-val">{{.Records}}</div>
  </div>
  <div class="stat-card">
    <div>Complete</div>
    <div class="stat-val" style="color: {{if lt .Complete .Records}}darkorange{{else}}green{{end}};">{{.Complete}}</div>
  </div>
  <div class="stat-card">
    <div>Scrolls</div>
    <div class="stat-val">{{.Scrolls}}</div>
  </div>

  <h3>Empty Fields</h3>
  <table>
    <tr><th>Field</th><th>Count</th></tr>
    {{- range $field, $count := .EmptyFields}}
    <tr><td>{{$field}}</td><td>{{$count}}</td></tr>
    {{- end}}
  </table>

  <h3>Sink Errors</h3>
  <table>
    <tr><th>Sink</th><th>Count</th></tr>
    {{- range $sink, $count := .SinkErrors}}
    <tr><td>{{$sink}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
