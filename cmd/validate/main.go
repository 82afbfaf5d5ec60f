// Command validate checks a STREAMS download archive: entry names and order,
// compression, CSV headers, gauge columns, and that every time value falls
// inside the requested range.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -archive streams-data.zip \
//	  -gauges USGS-01234567,USGS-07654321 \
//	  -start 2020-01-01 -end 2020-12-31 \
//	  -datasets "Streamflow,Land Use/Cover"
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/config"
)

func main() {
	archive := flag.String("archive", "", "path to the downloaded zip archive")
	gauges := flag.String("gauges", "", "comma-separated gauge identifiers")
	start := flag.String("start", "", "range start (YYYY-MM-DD or RFC 3339)")
	end := flag.String("end", "", "range end (YYYY-MM-DD or RFC 3339)")
	datasets := flag.String("datasets", "", "comma-separated other dataset labels")
	waterQuality := flag.Bool("water-quality", true, "expect a water quality entry per gauge")
	catalogFile := flag.String("catalog", "", "optional catalog YAML (defaults to the published catalog)")
	flag.Parse()

	if *archive == "" || *gauges == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(1)
	}

	catalog, err := config.LoadCatalog(*catalogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load catalog: %v\n", err)
		os.Exit(1)
	}
	lo, err := parseDate(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: -start: %v\n", err)
		os.Exit(1)
	}
	hi, err := parseDate(*end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: -end: %v\n", err)
		os.Exit(1)
	}
	data, err := os.ReadFile(*archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read archive: %v\n", err)
		os.Exit(1)
	}

	exp := expectation{
		gauges:       splitList(*gauges),
		datasets:     splitList(*datasets),
		waterQuality: *waterQuality,
		start:        lo,
		end:          hi,
	}
	if code := run(os.Stdout, data, catalog, exp); code != 0 {
		os.Exit(code)
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
