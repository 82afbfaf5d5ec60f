package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// csvTime decodes the naive UTC timestamps used in the CSV exports.
type csvTime time.Time

func (t *csvTime) UnmarshalText(b []byte) error {
	v, err := time.Parse(domain.CSVTimeLayout, string(b))
	if err != nil {
		v, err = time.Parse(time.DateOnly, string(b))
	}
	if err != nil {
		return fmt.Errorf("parse time %q: %w", b, err)
	}
	*t = csvTime(v.UTC())
	return nil
}

type waterQualityCSV struct {
	Gauge     string   `csv:"gauge"`
	DateTime  csvTime  `csv:"DateTime"`
	WTemp     *float64 `csv:"WTemp_C,omitempty"`
	FlagWTemp string   `csv:"Flag_WTemp_C,omitempty"`
	SpC       *float64 `csv:"SpC_uScm,omitempty"`
	FlagSpC   string   `csv:"Flag_SpC_uScm,omitempty"`
	DO        *float64 `csv:"DO_mgL,omitempty"`
	FlagDO    string   `csv:"Flag_DO_mgL,omitempty"`
	PH        *float64 `csv:"pH,omitempty"`
	FlagPH    string   `csv:"Flag_pH,omitempty"`
	Turb      *float64 `csv:"Turb_FNU,omitempty"`
	FlagTurb  string   `csv:"Flag_Turb_FNU,omitempty"`
}

type waterQualityRow struct {
	Gauge     string    `parquet:"gauge"`
	DateTime  time.Time `parquet:"DateTime"`
	WTemp     *float64  `parquet:"WTemp_C"`
	FlagWTemp string    `parquet:"Flag_WTemp_C"`
	SpC       *float64  `parquet:"SpC_uScm"`
	FlagSpC   string    `parquet:"Flag_SpC_uScm"`
	DO        *float64  `parquet:"DO_mgL"`
	FlagDO    string    `parquet:"Flag_DO_mgL"`
	PH        *float64  `parquet:"pH"`
	FlagPH    string    `parquet:"Flag_pH"`
	Turb      *float64  `parquet:"Turb_FNU"`
	FlagTurb  string    `parquet:"Flag_Turb_FNU"`
}

type streamflowCSV struct {
	Gauge    string  `csv:"gauge"`
	DateTime csvTime `csv:"DateTime"`
	Flow     float64 `csv:"Flow_cms"`
}

// streamflowRow omits gauge; it is carried by the partition directory.
type streamflowRow struct {
	DateTime time.Time `parquet:"DateTime"`
	Flow     float64   `parquet:"Flow_cms"`
}

type gaugeRow struct {
	Gauge     string   `csv:"gauge" parquet:"gauge"`
	Name      string   `csv:"name" parquet:"name"`
	Latitude  *float64 `csv:"latitude,omitempty" parquet:"latitude"`
	Longitude *float64 `csv:"longitude,omitempty" parquet:"longitude"`
}

// lulcRow stores year as a string, as the published resource does.
type lulcRow struct {
	Gauge     string  `csv:"gauge" parquet:"gauge"`
	Year      string  `csv:"year" parquet:"year"`
	PctForest float64 `csv:"pct_forest" parquet:"pct_forest"`
	PctUrban  float64 `csv:"pct_urban" parquet:"pct_urban"`
}

type written struct {
	path string
	rows int
}

func generate(csvDir, outDir string) ([]written, error) {
	var out []written
	steps := []func() ([]written, error){
		func() ([]written, error) { return waterQuality(csvDir, outDir) },
		func() ([]written, error) { return streamflow(csvDir, outDir) },
		func() ([]written, error) {
			return passthrough[gaugeRow](filepath.Join(csvDir, "gauges.csv"), filepath.Join(outDir, "gauges.parquet"))
		},
		func() ([]written, error) {
			return passthrough[lulcRow](filepath.Join(csvDir, "lulc.csv"), filepath.Join(outDir, "lulc.parquet"))
		},
	}
	for _, step := range steps {
		w, err := step()
		if err != nil {
			return nil, err
		}
		out = append(out, w...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recognised CSV files in %s", csvDir)
	}
	return out, nil
}

func waterQuality(csvDir, outDir string) ([]written, error) {
	recs, err := loadCSV[waterQualityCSV](filepath.Join(csvDir, "water_quality.csv"))
	if err != nil || recs == nil {
		return nil, err
	}
	rows := make([]waterQualityRow, len(recs))
	for i, r := range recs {
		rows[i] = waterQualityRow{
			Gauge: r.Gauge, DateTime: time.Time(r.DateTime),
			WTemp: r.WTemp, FlagWTemp: r.FlagWTemp,
			SpC: r.SpC, FlagSpC: r.FlagSpC,
			DO: r.DO, FlagDO: r.FlagDO,
			PH: r.PH, FlagPH: r.FlagPH,
			Turb: r.Turb, FlagTurb: r.FlagTurb,
		}
	}
	path := filepath.Join(outDir, "water_quality.parquet")
	if err := writeParquet(path, rows); err != nil {
		return nil, err
	}
	return []written{{path: path, rows: len(rows)}}, nil
}

func streamflow(csvDir, outDir string) ([]written, error) {
	recs, err := loadCSV[streamflowCSV](filepath.Join(csvDir, "streamflow.csv"))
	if err != nil || recs == nil {
		return nil, err
	}
	byGauge := make(map[string][]streamflowRow)
	for _, r := range recs {
		byGauge[r.Gauge] = append(byGauge[r.Gauge], streamflowRow{DateTime: time.Time(r.DateTime), Flow: r.Flow})
	}
	gauges := make([]string, 0, len(byGauge))
	for g := range byGauge {
		gauges = append(gauges, g)
	}
	sort.Strings(gauges)

	out := make([]written, 0, len(gauges))
	for _, g := range gauges {
		rows := byGauge[g]
		sort.Slice(rows, func(i, j int) bool { return rows[i].DateTime.Before(rows[j].DateTime) })
		path := filepath.Join(outDir, "streamflow", domain.GaugeColumn+"="+url.PathEscape(g), "part-0.parquet")
		if err := writeParquet(path, rows); err != nil {
			return nil, err
		}
		out = append(out, written{path: path, rows: len(rows)})
	}
	return out, nil
}

func passthrough[T any](csvPath, outPath string) ([]written, error) {
	rows, err := loadCSV[T](csvPath)
	if err != nil || rows == nil {
		return nil, err
	}
	if err := writeParquet(outPath, rows); err != nil {
		return nil, err
	}
	return []written{{path: outPath, rows: len(rows)}}, nil
}

// loadCSV decodes a headered CSV file. A missing file yields nil, nil.
func loadCSV[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows := []T{}
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[T](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer %s: %w", path, err)
	}
	return f.Close()
}
