package dataquery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/presgen/internal/data"
	"github.com/haasonsaas/presgen/internal/toolerr"
)

// DefaultLimit is appended to any statement lacking a LIMIT clause.
const DefaultLimit = 5000

// synonyms maps question vocabulary to likely column names, tried in
// order before fuzzier matching.
var synonyms = map[string][]string{
	"sales":     {"total", "revenue", "amount", "sales"},
	"revenue":   {"revenue", "total", "amount", "sales"},
	"company":   {"company", "customer", "client", "name"},
	"companies": {"company", "customer", "client", "name"},
	"customer":  {"company", "customer", "client", "name"},
	"customers": {"company", "customer", "client", "name"},
}

var (
	ddlGuard     = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|REPLACE|MERGE)\b`)
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	limitClause  = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	selectPrefix = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)

	topNPattern    = regexp.MustCompile(`(?i)\btop\s+(\d+)\b`)
	byColPattern   = regexp.MustCompile(`(?i)\bby\s+(\w+)\b`)
	groupByPattern = regexp.MustCompile(`(?i)\b(\w+)\s+by\s+(\w+)\b`)
	avgPattern     = regexp.MustCompile(`(?i)\b(average|avg|mean)\b`)
	sumPattern     = regexp.MustCompile(`(?i)\b(total|sum)\b`)
)

// SynthesizeSQL attempts pattern-based SQL generation against the fixed
// question catalog: group-by, top-N, sum, average, tried in that order.
// The statement targets the table alias "t".
func SynthesizeSQL(question string, cols []data.Column) (string, bool) {
	// Group-by aggregation ("sales by region"), declined for top-N
	// questions where "by" names the sort column instead.
	if m := groupByPattern.FindStringSubmatch(question); m != nil && !topNPattern.MatchString(question) {
		metric, metricOK := findColumn(m[1], cols)
		group, groupOK := findColumn(m[2], cols)
		if metricOK && groupOK && metric != group && isNumeric(metric, cols) {
			agg, alias := "SUM", "total"
			if avgPattern.MatchString(question) {
				agg, alias = "AVG", "average"
			}
			return fmt.Sprintf(`SELECT %q, %s(%q) AS %s FROM t GROUP BY %q ORDER BY %s DESC`,
				group, agg, metric, alias, group, alias), true
		}
	}

	if m := topNPattern.FindStringSubmatch(question); m != nil {
		orderCol := ""
		if bm := byColPattern.FindStringSubmatch(question); bm != nil {
			if col, ok := findColumn(bm[1], cols); ok {
				orderCol = col
			}
		}
		if orderCol == "" {
			orderCol = firstNumeric(cols)
		}
		if orderCol != "" {
			return fmt.Sprintf(`SELECT * FROM t ORDER BY %q DESC LIMIT %s`, orderCol, m[1]), true
		}
	}

	if sumPattern.MatchString(question) {
		if col := targetNumeric(question, cols); col != "" {
			return fmt.Sprintf(`SELECT SUM(%q) AS total FROM t`, col), true
		}
	}

	if avgPattern.MatchString(question) {
		if col := targetNumeric(question, cols); col != "" {
			return fmt.Sprintf(`SELECT AVG(%q) AS average FROM t`, col), true
		}
	}

	return "", false
}

// SanitizeSQL strips comments, enforces the read-only whitelist, and
// guarantees a LIMIT clause. Violations are BadRequest.
func SanitizeSQL(sqlText string, defaultLimit int) (string, error) {
	s := blockComment.ReplaceAllString(sqlText, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if s == "" {
		return "", toolerr.New(toolerr.BadRequest, "empty statement")
	}
	if !selectPrefix.MatchString(s) {
		return "", toolerr.New(toolerr.BadRequest, "only SELECT/WITH statements are allowed")
	}
	if ddlGuard.MatchString(s) {
		return "", toolerr.New(toolerr.BadRequest, "statement contains a forbidden keyword")
	}
	if !limitClause.MatchString(s) {
		s = fmt.Sprintf("%s LIMIT %d", s, defaultLimit)
	}
	return s, nil
}

// FallbackSQL is the safe statement used when synthesis or validation
// fails: a bounded scan of the whole sheet.
func FallbackSQL(limitRows int) string {
	limit := 50
	if limitRows > 0 && limitRows < limit {
		limit = limitRows
	}
	return fmt.Sprintf("SELECT * FROM t LIMIT %d", limit)
}

// findColumn resolves a question word to a column name: synonym map
// first, then exact case-insensitive, then substring, in that order.
func findColumn(word string, cols []data.Column) (string, bool) {
	w := strings.ToLower(word)
	if candidates, ok := synonyms[w]; ok {
		for _, cand := range candidates {
			for _, c := range cols {
				if strings.EqualFold(c.Name, cand) {
					return c.Name, true
				}
			}
		}
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, w) {
			return c.Name, true
		}
	}
	for _, c := range cols {
		lc := strings.ToLower(c.Name)
		if strings.Contains(lc, w) || strings.Contains(w, lc) {
			return c.Name, true
		}
	}
	return "", false
}

// targetNumeric picks the numeric column a question is about: the first
// question word that resolves to a numeric column, else the sheet's
// first numeric column.
func targetNumeric(question string, cols []data.Column) string {
	for _, word := range strings.Fields(strings.ToLower(question)) {
		word = strings.Trim(word, "?.,!")
		if col, ok := findColumn(word, cols); ok && isNumeric(col, cols) {
			return col
		}
	}
	return firstNumeric(cols)
}

func firstNumeric(cols []data.Column) string {
	for _, c := range cols {
		if c.Type == "INTEGER" || c.Type == "REAL" {
			return c.Name
		}
	}
	return ""
}

func isNumeric(name string, cols []data.Column) bool {
	for _, c := range cols {
		if c.Name == name {
			return c.Type == "INTEGER" || c.Type == "REAL"
		}
	}
	return false
}
