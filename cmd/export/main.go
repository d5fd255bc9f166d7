// Command export dumps the trade journal to a CSV file for analysis.
package main

import (
	"flag"
	"fmt"
	"log"

	"tradekit/pkg/journal"
)

var (
	journalDir = flag.String("journal", "journal", "journal directory")
	output     = flag.String("o", "trades.csv", "CSV output path")
)

func main() {
	flag.Parse()

	w := journal.NewWriter(*journalDir)
	records, err := w.ReadAll()
	if err != nil {
		log.Fatalf("failed to read journal: %v", err)
	}
	if err := w.ExportCSV(*output); err != nil {
		log.Fatalf("failed to export: %v", err)
	}
	fmt.Printf("exported %d trades to %s\n", len(records), *output)
}
