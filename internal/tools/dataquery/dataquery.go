// Package dataquery answers a natural-language question about an
// ingested dataset: synthesize restricted SQL, execute it, render a
// chart, and summarize the result into a few insights. Every stage
// past dataset resolution degrades instead of failing.
package dataquery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/presgen/internal/chart"
	"github.com/haasonsaas/presgen/internal/data"
	"github.com/haasonsaas/presgen/internal/llm"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Method is the JSON-RPC method name this tool registers under.
const Method = "data.query"

// MaxLimitRows caps the caller-supplied row bound.
const MaxLimitRows = 100_000

// maxInsightChars bounds the combined length of the insight bullets.
const maxInsightChars = 350

// Params is the data.query request payload.
type Params struct {
	DatasetID string `json:"dataset_id" jsonschema:"required,description=Dataset id, source filename, or 'latest'"`
	Question  string `json:"question" jsonschema:"required"`
	Sheet     string `json:"sheet,omitempty" jsonschema:"description=Sheet name (default: first sheet)"`
	LimitRows int    `json:"limit_rows,omitempty" jsonschema:"description=Row cap (default 5000, max 100000)"`
}

// Result is the answer artifact bundle.
type Result struct {
	SQL          string   `json:"sql"`
	ChartPNGPath string   `json:"chart_png_path,omitempty"`
	TableMD      string   `json:"table_md"`
	Insights     []string `json:"insights"`
	DatasetID    string   `json:"dataset_id"`
	RowCount     int      `json:"row_count"`
}

// Tool implements data.query.
type Tool struct {
	store    *data.Store
	backend  llm.TextBackend // optional; enables SQL fallback and LLM insights
	charts   *chart.Renderer
	chartDir string
	logger   *slog.Logger
}

// New builds the tool. backend may be nil; the pipeline then relies on
// pattern synthesis and canned insights only.
func New(store *data.Store, backend llm.TextBackend, chartDir string, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		store:    store,
		backend:  backend,
		charts:   chart.NewRenderer(chartDir, logger),
		chartDir: chartDir,
		logger:   logger,
	}
}

// Query runs the full question pipeline. Only dataset resolution errors
// are fatal; anything later returns a degraded Result.
func (t *Tool) Query(ctx context.Context, p Params) (any, error) {
	if strings.TrimSpace(p.Question) == "" {
		return nil, toolerr.New(toolerr.BadRequest, "question is required")
	}
	if p.LimitRows <= 0 {
		p.LimitRows = DefaultLimit
	}
	if p.LimitRows > MaxLimitRows {
		p.LimitRows = MaxLimitRows
	}

	ds, err := t.store.Resolve(p.DatasetID)
	if err != nil {
		return nil, err
	}
	sheet, err := pickSheet(ds, p.Sheet)
	if err != nil {
		return nil, err
	}

	sqlText := t.synthesize(ctx, p.Question, sheet.Columns)
	sanitized, err := SanitizeSQL(sqlText, DefaultLimit)
	if err != nil {
		t.logger.Warn("generated sql rejected, using fallback",
			"dataset_id", ds.ID, "question", p.Question, "error", err)
		sanitized = FallbackSQL(p.LimitRows)
	}
	if err := t.store.ExplainAliased(ctx, ds, sheet.Table, sanitized); err != nil {
		t.logger.Warn("generated sql does not plan, using fallback",
			"dataset_id", ds.ID, "sql", sanitized, "error", err)
		sanitized = FallbackSQL(p.LimitRows)
	}

	rs, err := t.store.QueryAliased(ctx, ds, sheet.Table, sanitized)
	if err != nil {
		t.logger.Error("query execution failed", "dataset_id", ds.ID, "sql", sanitized, "error", err)
		return Result{
			SQL:       "-- Failed",
			TableMD:   "",
			Insights:  []string{fmt.Sprintf("Query failed: %v", err), fmt.Sprintf("Question: %s", p.Question)},
			DatasetID: ds.ID,
		}, nil
	}
	if len(rs.Rows) > p.LimitRows {
		rs.Rows = rs.Rows[:p.LimitRows]
	}

	res := Result{
		SQL:       sanitized,
		TableMD:   tableMarkdown(rs, maxTableRows),
		DatasetID: ds.ID,
		RowCount:  len(rs.Rows),
	}

	if kind, series, ok := chooseChart(rs); ok {
		path := filepath.Join(t.chartDir, ds.ID, questionHash(p.Question)+".png")
		if err := t.charts.RenderFile(path, kind, p.Question, series); err != nil {
			t.logger.Warn("chart render failed", "dataset_id", ds.ID, "error", err)
		} else {
			res.ChartPNGPath = path
		}
	}

	res.Insights = t.insights(ctx, p.Question, rs)
	t.logger.Info("answered data question",
		"dataset_id", ds.ID, "rows", res.RowCount, "chart", res.ChartPNGPath != "")
	return res, nil
}

// synthesize produces candidate SQL: pattern catalog first, then the
// LLM if available, then the bounded fallback scan.
func (t *Tool) synthesize(ctx context.Context, question string, cols []data.Column) string {
	if sqlText, ok := SynthesizeSQL(question, cols); ok {
		return sqlText
	}
	if t.backend == nil {
		return FallbackSQL(DefaultLimit)
	}

	var schema strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&schema, "- %s (%s)\n", c.Name, c.Type)
	}
	prompt := fmt.Sprintf(
		"Table t has columns:\n%s\nWrite one SQLite SELECT statement answering: %q\n"+
			"Return ONLY the SQL, no explanation, no code fences.", schema.String(), question)

	text, err := t.backend.GenerateText(ctx, prompt)
	if err != nil {
		t.logger.Warn("llm sql synthesis failed", "error", err)
		return FallbackSQL(DefaultLimit)
	}
	return llm.StripFences(text)
}

func pickSheet(ds data.Dataset, name string) (data.Sheet, error) {
	if len(ds.Sheets) == 0 {
		return data.Sheet{}, toolerr.New(toolerr.ResourceMissing, "dataset %s has no sheets", ds.ID)
	}
	if name == "" {
		return ds.Sheets[0], nil
	}
	for _, s := range ds.Sheets {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return data.Sheet{}, toolerr.New(toolerr.ResourceMissing, "sheet %s not found in dataset %s", name, ds.ID)
}

func questionHash(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(sum[:])[:8]
}

var datetimeLike = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?`)

// chooseChart maps the result shape to a chart kind and series. A false
// return means the result reads better as a table.
func chooseChart(rs data.ResultSet) (chart.Kind, chart.Series, bool) {
	if len(rs.Rows) == 0 || len(rs.Columns) == 0 {
		return "", chart.Series{}, false
	}

	if len(rs.Columns) == 1 {
		values := numericColumn(rs, 0)
		if values == nil {
			return "", chart.Series{}, false
		}
		if len(rs.Rows) == 1 {
			return chart.KindSingleValue, chart.Series{Labels: []string{rs.Columns[0]}, Values: values}, true
		}
		labels := make([]string, len(values))
		for i := range labels {
			labels[i] = strconv.Itoa(i + 1)
		}
		return chart.KindBar, chart.Series{Labels: labels, Values: values}, true
	}

	numericIdx := -1
	for i := range rs.Columns {
		if vs := numericColumn(rs, i); vs != nil {
			numericIdx = i
			break
		}
	}
	if numericIdx < 0 {
		return "", chart.Series{}, false
	}
	labelIdx := 0
	if numericIdx == 0 {
		labelIdx = 1
	}
	values := numericColumn(rs, numericIdx)
	labels := make([]string, len(rs.Rows))
	timeAxis := true
	for i, row := range rs.Rows {
		labels[i] = fmt.Sprintf("%v", row[labelIdx])
		if !datetimeLike.MatchString(labels[i]) {
			timeAxis = false
		}
	}
	series := chart.Series{Labels: labels, Values: values}
	if timeAxis && labelIdx == 0 {
		return chart.KindLine, series, true
	}
	if len(rs.Columns) == 2 {
		return chart.KindBar, series, true
	}
	return chart.KindBar, series, true
}

// numericColumn extracts column i as floats, or nil if any value is
// non-numeric.
func numericColumn(rs data.ResultSet, i int) []float64 {
	values := make([]float64, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		f, ok := toFloat(row[i])
		if !ok {
			return nil
		}
		values = append(values, f)
	}
	return values
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Preview bounds for the Markdown table fallback.
const (
	maxTableRows = 12
	maxTableCols = 6
)

// tableMarkdown renders the head of the result as a Markdown table,
// capped at maxRows rows and maxTableCols columns.
func tableMarkdown(rs data.ResultSet, maxRows int) string {
	if len(rs.Columns) == 0 {
		return ""
	}
	cols := rs.Columns
	if len(cols) > maxTableCols {
		cols = cols[:maxTableCols]
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for i, row := range rs.Rows {
		if i >= maxRows {
			break
		}
		if len(row) > maxTableCols {
			row = row[:maxTableCols]
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = ""
				continue
			}
			if f, ok := v.(float64); ok {
				cells[j] = chart.FormatValue(f)
				continue
			}
			cells[j] = fmt.Sprintf("%v", v)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// insights asks the backend for 2-4 terse bullets over the head of the
// result; without a backend (or on any failure) canned insights serve.
func (t *Tool) insights(ctx context.Context, question string, rs data.ResultSet) []string {
	canned := []string{
		fmt.Sprintf("Answered: %s", question),
		fmt.Sprintf("Found %d results across %d columns", len(rs.Rows), len(rs.Columns)),
	}
	if t.backend == nil || len(rs.Rows) == 0 {
		return canned
	}

	prompt := fmt.Sprintf(
		"Question: %s\nResult head:\n%s\nWrite 2 to 4 terse insight bullets, one per line, "+
			"no numbering, at most %d characters total.", question, tableMarkdown(rs, maxTableRows), maxInsightChars)
	text, err := t.backend.GenerateText(ctx, prompt)
	if err != nil {
		t.logger.Warn("insight generation failed", "error", err)
		return canned
	}

	var bullets []string
	total := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• "))
		if line == "" {
			continue
		}
		if total+len(line) > maxInsightChars || len(bullets) == 4 {
			break
		}
		bullets = append(bullets, line)
		total += len(line)
	}
	if len(bullets) < 2 {
		return canned
	}
	return bullets
}
