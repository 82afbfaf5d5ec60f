package domain

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// GaugeColumn holds the stream identifier in every dataset.
	GaugeColumn = "gauge"

	// WaterQualityTimeColumn is always projected first in water quality extracts.
	WaterQualityTimeColumn = "DateTime"

	// WaterQualityLabel names water quality archive entries.
	WaterQualityLabel = "water_quality"

	// DefaultResourceRoot is the HydroShare resource holding the STREAMS datasets.
	DefaultResourceRoot = "tonycastronova/248ec0f13d6c4580b2faa66425cb58c3/data/contents/"
)

// TimeSemantics describes what a dataset's time column means.
type TimeSemantics int

const (
	// TimeInstant columns hold naive UTC timestamps.
	TimeInstant TimeSemantics = iota
	// TimeYear columns hold a calendar year stored as timestamp, string or integer.
	TimeYear
)

func (s TimeSemantics) String() string {
	if s == TimeYear {
		return "year"
	}
	return "instant"
}

// ParseTimeSemantics accepts "instant" or "year".
func ParseTimeSemantics(s string) (TimeSemantics, error) {
	switch s {
	case "instant", "":
		return TimeInstant, nil
	case "year":
		return TimeYear, nil
	default:
		return TimeInstant, fmt.Errorf("unknown time semantics %q", s)
	}
}

// Dataset describes one remote dataset.
type Dataset struct {
	Label      string
	Path       string
	TimeColumn string
	Semantics  TimeSemantics
}

// VariableGroup is the concrete column set behind a water quality variable.
type VariableGroup struct {
	Label   string
	Columns []string
}

// Catalog is the closed, read-only table of datasets and variables. It is
// built once at startup and shared by all requests.
type Catalog struct {
	waterQuality Dataset
	gauges       Dataset
	datasets     map[string]Dataset
	datasetOrder []string
	variables    map[string]VariableGroup
	varOrder     []string
}

// NewCatalog validates and indexes the tables. Labels must be unique and
// every dataset needs a path; selectable datasets also need a time column.
func NewCatalog(waterQuality, gauges Dataset, datasets []Dataset, variables []VariableGroup) (*Catalog, error) {
	if waterQuality.Path == "" {
		return nil, errors.New("catalog: water quality dataset path is required")
	}
	if waterQuality.TimeColumn == "" {
		waterQuality.TimeColumn = WaterQualityTimeColumn
	}
	if gauges.Path == "" {
		return nil, errors.New("catalog: gauges dataset path is required")
	}

	c := &Catalog{
		waterQuality: waterQuality,
		gauges:       gauges,
		datasets:     make(map[string]Dataset, len(datasets)),
		variables:    make(map[string]VariableGroup, len(variables)),
	}

	for _, ds := range datasets {
		if ds.Label == "" || ds.Path == "" || ds.TimeColumn == "" {
			return nil, fmt.Errorf("catalog: dataset %q needs a label, path and time column", ds.Label)
		}
		if _, dup := c.datasets[ds.Label]; dup {
			return nil, fmt.Errorf("catalog: duplicate dataset %q", ds.Label)
		}
		c.datasets[ds.Label] = ds
		c.datasetOrder = append(c.datasetOrder, ds.Label)
	}

	for _, v := range variables {
		if v.Label == "" || len(v.Columns) == 0 {
			return nil, fmt.Errorf("catalog: variable %q needs a label and columns", v.Label)
		}
		if _, dup := c.variables[v.Label]; dup {
			return nil, fmt.Errorf("catalog: duplicate variable %q", v.Label)
		}
		v.Columns = slices.Clone(v.Columns)
		c.variables[v.Label] = v
		c.varOrder = append(c.varOrder, v.Label)
	}

	return c, nil
}

// DefaultCatalog returns the tables published with the STREAMS resource.
func DefaultCatalog() *Catalog {
	root := DefaultResourceRoot
	c, err := NewCatalog(
		Dataset{Label: WaterQualityLabel, Path: root + "water_quality.parquet", TimeColumn: "DateTime"},
		Dataset{Label: "gauges", Path: root + "gauges.parquet"},
		[]Dataset{
			{Label: "Streamflow", Path: root + "streamflow.parquet", TimeColumn: "DateTime"},
			{Label: "Land Use/Cover", Path: root + "lulc.parquet", TimeColumn: "year", Semantics: TimeYear},
			{Label: "Grab Samples", Path: root + "grab_samples.parquet", TimeColumn: "DateTime"},
			{Label: "Anthropogenic", Path: root + "dynamic_antropogenic.parquet", TimeColumn: "year", Semantics: TimeYear},
			{Label: "Historical Meteorology", Path: root + "dynamic_historical_meteorology", TimeColumn: "time"},
		},
		[]VariableGroup{
			{Label: "Water Temperature", Columns: []string{"WTemp_C", "Flag_WTemp_C"}},
			{Label: "Specific Conductance", Columns: []string{"SpC_uScm", "Flag_SpC_uScm"}},
			{Label: "Dissolved Oxygen", Columns: []string{"DO_mgL", "Flag_DO_mgL"}},
			{Label: "pH", Columns: []string{"pH", "Flag_pH"}},
			{Label: "Turbidity", Columns: []string{"Turb_FNU", "Flag_Turb_FNU"}},
			{Label: "NO3", Columns: []string{"NO3_mgNL", "Flag_NO3_mgNL"}},
			{Label: "fDOM", Columns: []string{"fDOM_QSU", "Flag_fDOM_QSU", "fDOM_RFU", "Flag_fDOM_RFU"}},
			{Label: "Chla", Columns: []string{"Chla_ugL", "Flag_Chla_ugL"}},
			{Label: "PC", Columns: []string{"PC_RFU", "Flag_PC_RFU"}},
		},
	)
	if err != nil {
		panic(err) // static table
	}
	return c
}

func (c *Catalog) WaterQuality() Dataset { return c.waterQuality }

func (c *Catalog) Gauges() Dataset { return c.gauges }

// Dataset looks up a selectable dataset by label.
func (c *Catalog) Dataset(label string) (Dataset, bool) {
	ds, ok := c.datasets[label]
	return ds, ok
}

// Variable looks up a water quality variable group by label.
func (c *Catalog) Variable(label string) (VariableGroup, bool) {
	v, ok := c.variables[label]
	return v, ok
}

// DatasetLabels returns selectable dataset labels in catalog order.
func (c *Catalog) DatasetLabels() []string { return slices.Clone(c.datasetOrder) }

// VariableGroups returns the variable groups in catalog order.
func (c *Catalog) VariableGroups() []VariableGroup {
	out := make([]VariableGroup, 0, len(c.varOrder))
	for _, label := range c.varOrder {
		v := c.variables[label]
		out = append(out, VariableGroup{Label: v.Label, Columns: slices.Clone(v.Columns)})
	}
	return out
}

// WaterQualityColumns expands variable labels into the projected column list,
// always led by the time column. Unknown labels fail with ErrUnknownSelection.
func (c *Catalog) WaterQualityColumns(labels []string) ([]string, error) {
	cols := []string{c.waterQuality.TimeColumn}
	for _, label := range labels {
		v, ok := c.variables[label]
		if !ok {
			return nil, fmt.Errorf("%w: unknown water quality variable: %s", ErrUnknownSelection, label)
		}
		cols = append(cols, v.Columns...)
	}
	return cols, nil
}

// ResolveDatasets maps dataset labels to descriptors in request order.
func (c *Catalog) ResolveDatasets(labels []string) ([]Dataset, error) {
	out := make([]Dataset, 0, len(labels))
	for _, label := range labels {
		ds, ok := c.datasets[label]
		if !ok {
			return nil, fmt.Errorf("%w: unknown dataset selection: %s", ErrUnknownSelection, label)
		}
		out = append(out, ds)
	}
	return out, nil
}
