package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"palisade/internal/domain"
)

func testExecutions(n int) []domain.Execution {
	base := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	out := make([]domain.Execution, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Execution{
			OrderID:     fmt.Sprintf("o%d", i+1),
			Symbol:      "AAPL",
			Instruction: domain.InstructionBuy,
			Qty:         10,
			Price:       189.5,
			Time:        base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestWriteFilesSchema(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

	executions := []domain.Execution{
		{
			OrderID:     "o1",
			Symbol:      "AAPL",
			Instruction: domain.InstructionBuy,
			Qty:         10,
			Price:       189.5,
			Time:        time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		},
		{
			OrderID:     "o2",
			Symbol:      "MSFT",
			Instruction: domain.InstructionSell,
			Qty:         2.5,
			Price:       410,
			Time:        time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC),
		},
	}

	paths, err := WriteFiles(dir, executions, 100, stamp)
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("len(paths) = %d, want 1", len(paths))
	}
	if want := filepath.Join(dir, "orders_export_20250115_093000.csv"); paths[0] != want {
		t.Errorf("path = %q, want %q", paths[0], want)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	want := "orderId,symbol,instruction,quantity,price,time\n" +
		"o1,AAPL,BUY,10,189.5,2025-01-15T14:30:00Z\n" +
		"o2,MSFT,SELL,2.5,410,2025-01-15T15:00:00Z\n"
	if string(data) != want {
		t.Errorf("file content =\n%s\nwant\n%s", data, want)
	}
}

func TestWriteFilesRollsToParts(t *testing.T) {
	dir := t.TempDir()
	stamp := time.Date(2025, 3, 1, 16, 5, 0, 0, time.UTC)

	paths, err := WriteFiles(dir, testExecutions(5), 2, stamp)
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}

	wantNames := []string{
		"orders_export_20250301_160500.csv",
		"orders_export_20250301_160500_part2.csv",
		"orders_export_20250301_160500_part3.csv",
	}
	if len(paths) != len(wantNames) {
		t.Fatalf("len(paths) = %d, want %d", len(paths), len(wantNames))
	}
	wantRows := []int{2, 2, 1}
	for i, p := range paths {
		if got := filepath.Base(p); got != wantNames[i] {
			t.Errorf("paths[%d] = %q, want %q", i, got, wantNames[i])
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("reading %s: %v", p, err)
		}
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		if lines[0] != strings.Join(csvHeader, ",") {
			t.Errorf("%s header = %q", filepath.Base(p), lines[0])
		}
		if got := len(lines) - 1; got != wantRows[i] {
			t.Errorf("%s rows = %d, want %d", filepath.Base(p), got, wantRows[i])
		}
	}
}

func TestWriteFilesEmpty(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteFiles(dir, nil, 100, time.Now())
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("len(paths) = %d, want 0", len(paths))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dir has %d entries, want none", len(entries))
	}
}
