// Command palisade-history reformats a brokerage account-history CSV into
// the warehouse execution schema, keeping only plain Buy/Sell equity
// trades. The output file can be uploaded alongside regular exports to
// backfill trades that predate the pipeline.
package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"palisade/internal/export"
	"palisade/internal/util"
)

func main() {
	input := flag.String("input", "history.csv", "account history CSV to transform")
	output := flag.String("output", "historical_orders.csv", "output CSV path")
	flag.Parse()

	logger, err := util.NewLogger("info", "console")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	n, err := export.TransformHistory(*input, *output, logger)
	if err != nil {
		logger.Fatal("transform failed", zap.Error(err))
	}
	logger.Info("done", zap.Int("rows", n), zap.String("output", *output))
}
