package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// expectation describes the request an archive was built for.
type expectation struct {
	gauges       []string
	datasets     []string
	waterQuality bool
	start, end   time.Time
}

// plannedEntry is one entry the archive should contain.
type plannedEntry struct {
	name    string
	gauge   string
	dataset domain.Dataset
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// archiveEntry is a decoded CSV entry.
type archiveEntry struct {
	name   string
	method uint16
	rows   [][]string
	err    error
}

func run(w io.Writer, data []byte, catalog *domain.Catalog, exp expectation) int {
	fmt.Fprintln(w, "=== STREAMS Archive Validation ===")
	fmt.Fprintln(w)

	plan, err := planEntries(catalog, exp)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	entries, err := readEntries(data)
	if err != nil {
		fmt.Fprintf(w, "FATAL: open archive: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStructure(entries, plan),
		validateHeaders(entries, plan),
		validateGauges(entries, plan),
		validateTimeRange(entries, plan, exp.start, exp.end),
	}

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-36s %s\n", p.name, status)
	}

	rows := 0
	for _, e := range entries {
		if len(e.rows) > 0 {
			rows += len(e.rows) - 1
		}
	}
	fmt.Fprintf(w, "\nEntries: %d found, %d expected; %d data rows\n", len(entries), len(plan), rows)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// planEntries mirrors the archive order: per gauge, water quality first, then
// datasets in request order.
func planEntries(catalog *domain.Catalog, exp expectation) ([]plannedEntry, error) {
	datasets, err := catalog.ResolveDatasets(exp.datasets)
	if err != nil {
		return nil, err
	}
	var plan []plannedEntry
	for _, g := range exp.gauges {
		if exp.waterQuality {
			plan = append(plan, plannedEntry{name: domain.EntryName(g, domain.WaterQualityLabel), gauge: g, dataset: catalog.WaterQuality()})
		}
		for _, ds := range datasets {
			plan = append(plan, plannedEntry{name: domain.EntryName(g, ds.Label), gauge: g, dataset: ds})
		}
	}
	return plan, nil
}

func readEntries(data []byte) ([]archiveEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	entries := make([]archiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		e := archiveEntry{name: f.Name, method: f.Method}
		rc, err := f.Open()
		if err != nil {
			e.err = err
			entries = append(entries, e)
			continue
		}
		e.rows, e.err = csv.NewReader(rc).ReadAll()
		rc.Close()
		entries = append(entries, e)
	}
	return entries, nil
}

// ── Phase 1: Structure ──

func validateStructure(entries []archiveEntry, plan []plannedEntry) *phase {
	p := &phase{name: "Phase 1: Entry names and order"}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
		if e.method != zip.Deflate {
			p.errorf("%s: compression method %d, want Deflate", e.name, e.method)
		}
		if e.err != nil {
			p.errorf("%s: unreadable CSV: %v", e.name, e.err)
		}
	}
	want := make([]string, len(plan))
	for i, pe := range plan {
		want[i] = pe.name
	}
	if !slices.Equal(names, want) {
		p.errorf("entries %v, want %v", names, want)
	}
	return p
}

// ── Phase 2: Headers ──

func validateHeaders(entries []archiveEntry, plan []plannedEntry) *phase {
	p := &phase{name: "Phase 2: CSV headers"}
	for _, e := range entries {
		pe, ok := lookupPlan(plan, e.name)
		if !ok || e.err != nil {
			continue
		}
		if len(e.rows) == 0 {
			p.errorf("%s: missing header row", e.name)
			continue
		}
		header := e.rows[0]
		if pe.dataset.Label == domain.WaterQualityLabel && header[0] != domain.WaterQualityTimeColumn {
			p.errorf("%s: first column %q, want %q", e.name, header[0], domain.WaterQualityTimeColumn)
		}
		if slices.Index(header, pe.dataset.TimeColumn) < 0 {
			p.errorf("%s: time column %q missing", e.name, pe.dataset.TimeColumn)
		}
		for i, row := range e.rows[1:] {
			if len(row) != len(header) {
				p.errorf("%s line %d: %d fields, header has %d", e.name, i+2, len(row), len(header))
				break
			}
		}
	}
	return p
}

// ── Phase 3: Gauge column ──

func validateGauges(entries []archiveEntry, plan []plannedEntry) *phase {
	p := &phase{name: "Phase 3: Gauge column"}
	for _, e := range entries {
		pe, ok := lookupPlan(plan, e.name)
		if !ok || e.err != nil || len(e.rows) == 0 {
			continue
		}
		col := slices.Index(e.rows[0], domain.GaugeColumn)
		if col < 0 {
			continue
		}
		for i, row := range e.rows[1:] {
			if row[col] != pe.gauge {
				p.errorf("%s line %d: gauge %q, want %q", e.name, i+2, row[col], pe.gauge)
			}
		}
	}
	return p
}

// ── Phase 4: Time range ──

func validateTimeRange(entries []archiveEntry, plan []plannedEntry, start, end time.Time) *phase {
	p := &phase{name: "Phase 4: Time range"}
	for _, e := range entries {
		pe, ok := lookupPlan(plan, e.name)
		if !ok || e.err != nil || len(e.rows) == 0 {
			continue
		}
		col := slices.Index(e.rows[0], pe.dataset.TimeColumn)
		if col < 0 {
			continue
		}
		for i, row := range e.rows[1:] {
			if err := checkTime(row[col], pe.dataset.Semantics, start, end); err != nil {
				p.errorf("%s line %d: %v", e.name, i+2, err)
			}
		}
	}
	return p
}

func checkTime(v string, semantics domain.TimeSemantics, start, end time.Time) error {
	if semantics == domain.TimeYear {
		year, err := yearOf(v)
		if err != nil {
			return err
		}
		if year < start.Year() || year > end.Year() {
			return fmt.Errorf("year %d outside %d..%d", year, start.Year(), end.Year())
		}
		return nil
	}
	t, err := time.Parse(domain.CSVTimeLayout, v)
	if err != nil {
		return fmt.Errorf("time %q: %w", v, err)
	}
	if t.Before(start) || t.After(end) {
		return fmt.Errorf("time %s outside %s..%s", v, start.Format(time.DateTime), end.Format(time.DateTime))
	}
	return nil
}

// yearOf accepts "2010" or a timestamp.
func yearOf(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	t, err := time.Parse(domain.CSVTimeLayout, v)
	if err != nil {
		return 0, fmt.Errorf("year %q is neither an integer nor a timestamp", v)
	}
	return t.Year(), nil
}

func lookupPlan(plan []plannedEntry, name string) (plannedEntry, bool) {
	for _, pe := range plan {
		if pe.name == name {
			return pe, true
		}
	}
	return plannedEntry{}, false
}
