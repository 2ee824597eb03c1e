package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"palisade/internal/domain"
)

// csvHeader is the warehouse ingest schema. The column names are part of
// the downstream job's contract and must not change.
var csvHeader = []string{"orderId", "symbol", "instruction", "quantity", "price", "time"}

// WriteFiles writes executions under dir as one or more CSV files named
// orders_export_<YYYYMMDD_HHMMSS>.csv and returns the paths written.
// Files are capped at maxPerFile rows; overflow rolls to _partN files
// sharing the same stamp. No executions writes no files.
func WriteFiles(dir string, executions []domain.Execution, maxPerFile int, stamp time.Time) ([]string, error) {
	if len(executions) == 0 {
		return nil, nil
	}
	if maxPerFile <= 0 {
		maxPerFile = len(executions)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	base := "orders_export_" + stamp.Format("20060102_150405")
	var paths []string
	for part := 0; part*maxPerFile < len(executions); part++ {
		name := base + ".csv"
		if part > 0 {
			name = fmt.Sprintf("%s_part%d.csv", base, part+1)
		}
		path := filepath.Join(dir, name)

		lo := part * maxPerFile
		hi := lo + maxPerFile
		if hi > len(executions) {
			hi = len(executions)
		}
		if err := writeCSVFile(path, executions[lo:hi]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSVFile(path string, executions []domain.Execution) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, ex := range executions {
		row := []string{
			ex.OrderID,
			ex.Symbol,
			ex.Instruction,
			formatFloat(ex.Qty),
			formatFloat(ex.Price),
			ex.Time.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing row for %s: %w", ex.OrderID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

// formatFloat renders quantities and prices without trailing zeros, so
// whole-share quantities stay integral in the CSV.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
