package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"palisade/internal/domain"
)

// ExecutionRecord is the parquet schema for archived executions.
type ExecutionRecord struct {
	OrderID     string  `parquet:"order_id"`
	Symbol      string  `parquet:"symbol"`
	Instruction string  `parquet:"instruction"`
	Qty         float64 `parquet:"quantity"`
	Price       float64 `parquet:"price"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// Archive keeps a local parquet copy of every exported execution, one file
// per calendar year:
//
//	<dir>/executions/<YYYY>.parquet
//
// Appends merge with the existing file and deduplicate by (order id,
// timestamp), so re-running an export over an overlapping window is
// harmless.
type Archive struct {
	dir string
}

// NewArchive returns an Archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Append merges executions into their per-year archive files.
func (a *Archive) Append(executions []domain.Execution) error {
	if len(executions) == 0 {
		return nil
	}

	groups := make(map[int][]ExecutionRecord)
	for _, ex := range executions {
		t := ex.Time.UTC()
		groups[t.Year()] = append(groups[t.Year()], ExecutionRecord{
			OrderID:     ex.OrderID,
			Symbol:      strings.ToUpper(ex.Symbol),
			Instruction: ex.Instruction,
			Qty:         ex.Qty,
			Price:       ex.Price,
			Timestamp:   t.UnixMilli(),
		})
	}

	for year, records := range groups {
		path := a.yearPath(year)

		existing, _ := readParquetFile[ExecutionRecord](path)
		merged := mergeExecutionRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing executions for %d: %w", year, err)
		}
	}
	return nil
}

// yearPath returns the archive file for one calendar year.
func (a *Archive) yearPath(year int) string {
	return filepath.Join(a.dir, "executions", fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeExecutionRecords deduplicates records by (order id, timestamp),
// preferring new records over existing ones. Results are sorted by
// timestamp.
func mergeExecutionRecords(existing, incoming []ExecutionRecord) []ExecutionRecord {
	type key struct {
		orderID string
		ts      int64
	}
	seen := make(map[key]ExecutionRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.OrderID, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.OrderID, r.Timestamp}] = r
	}

	merged := make([]ExecutionRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].OrderID < merged[j].OrderID
	})
	return merged
}
