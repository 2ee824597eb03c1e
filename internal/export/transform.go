package export

import (
	"crypto/md5"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"palisade/internal/domain"
)

// historyExcludeKeywords mark account-history rows that are not plain
// equity trades: options activity, corporate actions, and cash events.
var historyExcludeKeywords = []string{
	"dividend", "option", "call", "put", "reorganized", "tender", "warrant",
	"rights", "spin", "merger", "split", "distribution", "interest",
}

// occSymbolPattern matches compact option contract symbols like
// AAPL240119C00150000.
var occSymbolPattern = regexp.MustCompile(`^[A-Z.]{1,6}\d{6}[CP]\d{8}$`)

// TransformHistory reformats a brokerage account-history CSV at inputPath
// into the execution schema at outputPath, keeping only plain Buy/Sell
// equity trades. It returns the number of rows written.
//
// The input must carry Date, Action, Symbol, Quantity and Price columns
// (Description is used for filtering when present). Dates are MM/DD/YYYY
// trade dates; rows are stamped at the 16:00 ET market close. Row IDs are
// derived from the raw field values, so re-running the transform over the
// same file yields the same IDs.
func TransformHistory(inputPath, outputPath string, log *zap.Logger) (int, error) {
	log = log.Named("history")

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", inputPath, err)
	}
	defer f.Close()

	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return 0, fmt.Errorf("loading market timezone: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}
	cols, err := historyColumns(header)
	if err != nil {
		return 0, err
	}

	var (
		executions []domain.Execution
		total      int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading row %d: %w", total+1, err)
		}
		total++

		ex, ok := transformRow(record, cols, eastern, log)
		if ok {
			executions = append(executions, ex)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating output dir: %w", err)
	}
	if err := writeCSVFile(outputPath, executions); err != nil {
		return 0, err
	}
	log.Info("transformed history",
		zap.Int("rows_read", total),
		zap.Int("trades_kept", len(executions)),
		zap.String("output", outputPath))
	return len(executions), nil
}

// historyIndexes locates the columns the transform needs. Description is
// optional; everything else is required.
type historyIndexes struct {
	date, action, symbol, description, quantity, price int
}

func historyColumns(header []string) (historyIndexes, error) {
	idx := historyIndexes{date: -1, action: -1, symbol: -1, description: -1, quantity: -1, price: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			idx.date = i
		case "action":
			idx.action = i
		case "symbol":
			idx.symbol = i
		case "description":
			idx.description = i
		case "quantity":
			idx.quantity = i
		case "price":
			idx.price = i
		}
	}
	for _, req := range []struct {
		name string
		i    int
	}{
		{"Date", idx.date}, {"Action", idx.action}, {"Symbol", idx.symbol},
		{"Quantity", idx.quantity}, {"Price", idx.price},
	} {
		if req.i < 0 {
			return idx, fmt.Errorf("input missing column %q", req.name)
		}
	}
	return idx, nil
}

func transformRow(record []string, cols historyIndexes, eastern *time.Location, log *zap.Logger) (domain.Execution, bool) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	action := field(cols.action)
	if action != "Buy" && action != "Sell" {
		return domain.Execution{}, false
	}
	symbol := field(cols.symbol)
	if symbol == "" || isOptionSymbol(symbol) {
		return domain.Execution{}, false
	}
	description := strings.ToLower(field(cols.description))
	for _, kw := range historyExcludeKeywords {
		if strings.Contains(description, kw) {
			return domain.Execution{}, false
		}
	}

	rawDate, rawQty, rawPrice := field(cols.date), field(cols.quantity), field(cols.price)
	qty, err := cleanQuantity(rawQty)
	if err != nil {
		log.Warn("skipping row with bad quantity", zap.String("symbol", symbol), zap.String("quantity", rawQty))
		return domain.Execution{}, false
	}
	price, err := cleanPrice(rawPrice)
	if err != nil {
		log.Warn("skipping row with bad price", zap.String("symbol", symbol), zap.String("price", rawPrice))
		return domain.Execution{}, false
	}
	at, err := marketClose(rawDate, eastern)
	if err != nil {
		log.Warn("skipping row with bad date", zap.String("symbol", symbol), zap.String("date", rawDate))
		return domain.Execution{}, false
	}

	return domain.Execution{
		OrderID:     historyID(symbol, rawDate, action, rawQty, rawPrice),
		Symbol:      strings.ToUpper(symbol),
		Instruction: strings.ToUpper(action),
		Qty:         qty,
		Price:       price,
		Time:        at,
	}, true
}

// isOptionSymbol reports whether the symbol names an option contract, in
// either the spaced form ("AAPL 01/17/2025 150.00 C") or the compact OCC
// form.
func isOptionSymbol(symbol string) bool {
	if strings.ContainsRune(symbol, ' ') {
		return true
	}
	return occSymbolPattern.MatchString(symbol)
}

// cleanQuantity parses a quantity field, absorbing thousands separators.
// Sells show up with negative quantities in some exports; rows carry the
// direction in Action, so the magnitude is what gets kept.
func cleanQuantity(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return 0, fmt.Errorf("zero quantity")
	}
	return v, nil
}

// cleanPrice parses a price field like "$1,234.56".
func cleanPrice(s string) (float64, error) {
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive price")
	}
	return v, nil
}

// marketClose converts an MM/DD/YYYY trade date to the 16:00 ET market
// close on that day, in UTC. History exports carry no intraday times.
func marketClose(s string, eastern *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("01/02/2006", s, eastern)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, eastern).UTC(), nil
}

// historyID derives a stable row ID from the raw field values. Identical
// fills on the same day collapse to one ID, which the archive dedup treats
// as one execution.
func historyID(symbol, date, action, qty, price string) string {
	sum := md5.Sum([]byte(symbol + "|" + date + "|" + action + "|" + qty + "|" + price))
	return "HIST_" + strings.ToUpper(fmt.Sprintf("%x", sum))[:12]
}
