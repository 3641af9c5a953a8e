package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleCSV = `Bot Name,Bot Type,Owner,Priority,Version,Last Status,Run Count,Failure Count,Success Rate (%),Average Execution Time (s),Last Run Timestamp
alpha,scraper,alice,Low,v1.0,successfully ran,100,2,98,2.3,2023-01-01 00:00
bravo,etl,bob,High,v1.1,failed,200,20,90,5.1,2023-01-02 12:00
charlie,reporter,carol,Medium,v2.0,pending,50,10,not-a-number,7.2,bad-timestamp
,scraper,dana,Low,v1.0,successfully ran,10,0,99,1.0,2023-01-03 00:00
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	fleet, err := LoadCSV(writeSample(t, sampleCSV), nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	// the nameless row is dropped
	if len(fleet) != 3 {
		t.Fatalf("expected 3 records, got %d", len(fleet))
	}

	alpha := fleet[0]
	if alpha.BotName != "alpha" || alpha.Owner != "alice" || alpha.RunCount != 100 {
		t.Errorf("unexpected first record: %+v", alpha)
	}
	if alpha.SuccessRate != 98 || alpha.AvgExecTime != 2.3 {
		t.Errorf("unexpected numeric fields: %+v", alpha)
	}
	if alpha.LastRun == nil || alpha.LastRun.Format("2006-01-02") != "2023-01-01" {
		t.Errorf("timestamp not parsed: %v", alpha.LastRun)
	}
}

func TestLoadCSVSubstitutesMalformedCells(t *testing.T) {
	fleet, err := LoadCSV(writeSample(t, sampleCSV), nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	charlie := fleet[2]
	// malformed success rate degrades to the column mean (98+90)/2
	if charlie.SuccessRate != 94 {
		t.Errorf("expected mean-substituted success rate 94, got %v", charlie.SuccessRate)
	}
	if charlie.LastRun != nil {
		t.Errorf("unparseable timestamp should be nil, got %v", charlie.LastRun)
	}
	if charlie.RunCount != 50 {
		t.Errorf("well-formed cells must survive substitution, got %+v", charlie)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadCSVMissingRequiredColumn(t *testing.T) {
	path := writeSample(t, "Owner,Run Count\nalice,10\n")
	if _, err := LoadCSV(path, nil); err == nil {
		t.Error("expected error for missing Bot Name column")
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"42", 42},
		{"", 0},
		{"-3", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := parseCount(tt.in); got != tt.want {
			t.Errorf("parseCount(%q): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, in := range []string{
		"2023-01-01 00:00:00",
		"2023-01-01 00:00",
		"2023-01-01T00:00:00Z",
		"2023-01-01",
	} {
		if parseTimestamp(in) == nil {
			t.Errorf("layout not accepted: %q", in)
		}
	}
	if parseTimestamp("01/02/2023") != nil {
		t.Error("unexpected layout accepted")
	}
}
