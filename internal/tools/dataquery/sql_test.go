package dataquery

import (
	"strings"
	"testing"

	"github.com/haasonsaas/presgen/internal/data"
)

var salesCols = []data.Column{
	{Name: "company", Type: "TEXT"},
	{Name: "region", Type: "TEXT"},
	{Name: "total", Type: "REAL"},
}

func TestSynthesizeTopN(t *testing.T) {
	sqlText, ok := SynthesizeSQL("top 5 companies by total", salesCols)
	if !ok {
		t.Fatal("no pattern matched")
	}
	want := `SELECT * FROM t ORDER BY "total" DESC LIMIT 5`
	if sqlText != want {
		t.Errorf("sql = %q, want %q", sqlText, want)
	}
}

func TestSynthesizeGroupBy(t *testing.T) {
	sqlText, ok := SynthesizeSQL("sales by region", salesCols)
	if !ok {
		t.Fatal("no pattern matched")
	}
	if !strings.Contains(sqlText, `GROUP BY "region"`) || !strings.Contains(sqlText, `SUM("total")`) {
		t.Errorf("sql = %q", sqlText)
	}
}

func TestSynthesizeAverageGroupBy(t *testing.T) {
	sqlText, ok := SynthesizeSQL("average sales by region", salesCols)
	if !ok {
		t.Fatal("no pattern matched")
	}
	if !strings.Contains(sqlText, `AVG("total")`) {
		t.Errorf("sql = %q", sqlText)
	}
}

func TestSynthesizeSum(t *testing.T) {
	sqlText, ok := SynthesizeSQL("what is the total sales?", salesCols)
	if !ok {
		t.Fatal("no pattern matched")
	}
	if !strings.Contains(sqlText, `SUM("total")`) {
		t.Errorf("sql = %q", sqlText)
	}
}

func TestSynthesizeNoMatch(t *testing.T) {
	if sqlText, ok := SynthesizeSQL("tell me something interesting", salesCols); ok {
		t.Errorf("unexpected match: %q", sqlText)
	}
}

func TestSanitizeSQLGuards(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain select", "SELECT * FROM t", false},
		{"with cte", "WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"drop", "DROP TABLE t", true},
		{"delete", "delete from t", true},
		{"hidden in comment still caught", "SELECT * FROM t; DROP TABLE t", true},
		{"insert", "INSERT INTO t VALUES (1)", true},
		{"create", "CREATE TABLE x (a)", true},
		{"merge", "MERGE INTO t USING u", true},
		{"empty after comments", "-- nothing here", true},
		{"non-select", "EXPLAIN SELECT 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeSQL(tt.in, DefaultLimit)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeSQL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeSQLAppendsLimit(t *testing.T) {
	got, err := SanitizeSQL("SELECT * FROM t", DefaultLimit)
	if err != nil {
		t.Fatalf("SanitizeSQL: %v", err)
	}
	if got != "SELECT * FROM t LIMIT 5000" {
		t.Errorf("sql = %q", got)
	}

	got, err = SanitizeSQL("SELECT * FROM t LIMIT 10", DefaultLimit)
	if err != nil {
		t.Fatalf("SanitizeSQL: %v", err)
	}
	if strings.Count(got, "LIMIT") != 1 {
		t.Errorf("duplicate limit in %q", got)
	}
}

func TestSanitizeSQLStripsComments(t *testing.T) {
	got, err := SanitizeSQL("SELECT * FROM t -- trailing\n/* block */ WHERE 1=1", DefaultLimit)
	if err != nil {
		t.Fatalf("SanitizeSQL: %v", err)
	}
	if strings.Contains(got, "--") || strings.Contains(got, "/*") {
		t.Errorf("comments survived: %q", got)
	}
}

func TestFallbackSQL(t *testing.T) {
	if got := FallbackSQL(1000); got != "SELECT * FROM t LIMIT 50" {
		t.Errorf("FallbackSQL(1000) = %q", got)
	}
	if got := FallbackSQL(10); got != "SELECT * FROM t LIMIT 10" {
		t.Errorf("FallbackSQL(10) = %q", got)
	}
}

func TestFindColumn(t *testing.T) {
	tests := []struct {
		word string
		want string
		ok   bool
	}{
		{"sales", "total", true},     // synonym
		{"companies", "company", true}, // synonym, plural
		{"region", "region", true},   // exact
		{"reg", "region", true},      // substring
		{"nonsense", "", false},
	}
	for _, tt := range tests {
		got, ok := findColumn(tt.word, salesCols)
		if got != tt.want || ok != tt.ok {
			t.Errorf("findColumn(%q) = %q, %v; want %q, %v", tt.word, got, ok, tt.want, tt.ok)
		}
	}
}
