// Command genfixture converts per-gauge CSV exports into the Parquet layout the
// STREAMS resource publishes, so the service can run against a local tree.
//
// Usage:
//
//	go run ./cmd/genfixture -csv-dir testdata/csv -out data/contents
//
// Recognised inputs (any may be absent):
//
//	water_quality.csv  gauge,DateTime,WTemp_C,Flag_WTemp_C,...  -> water_quality.parquet
//	streamflow.csv     gauge,DateTime,Flow_cms                  -> streamflow/gauge=<id>/part-0.parquet
//	gauges.csv         gauge,name,latitude,longitude            -> gauges.parquet
//	lulc.csv           gauge,year,pct_forest,pct_urban          -> lulc.parquet
package main

import (
	"flag"
	"fmt"
	"log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvDir := flag.String("csv-dir", "", "directory containing CSV exports")
	outDir := flag.String("out", "", "output directory for the Parquet tree")
	flag.Parse()

	if *csvDir == "" || *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv-dir, -out")
	}

	written, err := generate(*csvDir, *outDir)
	if err != nil {
		return err
	}
	for _, w := range written {
		log.Printf("wrote %s (%d rows)", w.path, w.rows)
	}
	log.Printf("total: %d files", len(written))
	return nil
}
