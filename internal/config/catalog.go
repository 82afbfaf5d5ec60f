package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// catalogFile is the YAML layout of CATALOG_FILE.
//
//	root: owner/resource/data/contents/
//	water_quality: {path: water_quality.parquet, time_column: DateTime}
//	gauges: {path: gauges.parquet}
//	datasets:
//	  - {label: Streamflow, path: streamflow.parquet, time_column: DateTime}
//	  - {label: Land Use/Cover, path: lulc.parquet, time_column: year, semantics: year}
//	variables:
//	  - {label: pH, columns: [pH, Flag_pH]}
type catalogFile struct {
	Root         string          `yaml:"root"`
	WaterQuality datasetEntry    `yaml:"water_quality"`
	Gauges       datasetEntry    `yaml:"gauges"`
	Datasets     []datasetEntry  `yaml:"datasets"`
	Variables    []variableEntry `yaml:"variables"`
}

type datasetEntry struct {
	Label      string `yaml:"label"`
	Path       string `yaml:"path"`
	TimeColumn string `yaml:"time_column"`
	Semantics  string `yaml:"semantics"`
}

type variableEntry struct {
	Label   string   `yaml:"label"`
	Columns []string `yaml:"columns"`
}

// LoadCatalog returns the built-in catalog when path is empty, otherwise the
// catalog described by the YAML file. Dataset paths are joined to root.
func LoadCatalog(path string) (*domain.Catalog, error) {
	if path == "" {
		return domain.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML.
func ParseCatalog(data []byte) (*domain.Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	wq, err := f.WaterQuality.dataset(f.Root, domain.WaterQualityLabel)
	if err != nil {
		return nil, err
	}
	gauges, err := f.Gauges.dataset(f.Root, "gauges")
	if err != nil {
		return nil, err
	}

	datasets := make([]domain.Dataset, 0, len(f.Datasets))
	for _, e := range f.Datasets {
		ds, err := e.dataset(f.Root, e.Label)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}

	variables := make([]domain.VariableGroup, 0, len(f.Variables))
	for _, v := range f.Variables {
		variables = append(variables, domain.VariableGroup{Label: v.Label, Columns: v.Columns})
	}

	return domain.NewCatalog(wq, gauges, datasets, variables)
}

func (e datasetEntry) dataset(root, label string) (domain.Dataset, error) {
	semantics, err := domain.ParseTimeSemantics(e.Semantics)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("catalog dataset %q: %w", label, err)
	}
	path := e.Path
	if path != "" {
		path = root + path
	}
	return domain.Dataset{Label: label, Path: path, TimeColumn: e.TimeColumn, Semantics: semantics}, nil
}
