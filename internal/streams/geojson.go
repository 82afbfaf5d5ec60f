package streams

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

const (
	latitudeColumn  = "latitude"
	longitudeColumn = "longitude"
	geometryColumn  = "geometry"
)

// FeatureCollection is a GeoJSON feature collection of gauge points.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one gauge.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Point          `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Point is a GeoJSON point in longitude, latitude order.
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Gauges returns the gauge catalog as GeoJSON, limited to maxFeatures when
// positive. Rows without coordinates are skipped.
func (s *Service) Gauges(ctx context.Context, token string, maxFeatures int) (*FeatureCollection, error) {
	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil, err
	}

	ds := s.catalog.Gauges()
	table, err := s.sources(sess.Credentials).Read(ctx, ds.Path, nil, nil)
	if err != nil {
		return nil, err
	}
	return gaugeFeatures(table, maxFeatures, s.logger.Warn)
}

func gaugeFeatures(table *domain.Table, maxFeatures int, warn func(msg string, args ...any)) (*FeatureCollection, error) {
	latIdx, lonIdx := table.ColumnIndex(latitudeColumn), table.ColumnIndex(longitudeColumn)
	if latIdx < 0 || lonIdx < 0 {
		return nil, errors.New("gauge dataset does not include latitude/longitude columns")
	}

	rows := table.Rows
	if maxFeatures > 0 && len(rows) > maxFeatures {
		rows = rows[:maxFeatures]
	}

	fc := &FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(rows))}
	skipped := 0
	for _, row := range rows {
		lat, okLat := coordinate(row[latIdx])
		lon, okLon := coordinate(row[lonIdx])
		if !okLat || !okLon {
			skipped++
			continue
		}

		props := make(map[string]any, len(table.Columns))
		for i, col := range table.Columns {
			if i == latIdx || i == lonIdx || col == geometryColumn {
				continue
			}
			props[col] = propertyValue(row[i])
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   Point{Type: "Point", Coordinates: [2]float64{lon, lat}},
			Properties: props,
		})
	}
	if skipped > 0 {
		warn("gauges without coordinates skipped", "count", skipped)
	}
	return fc, nil
}

func coordinate(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// propertyValue makes a cell JSON friendly: NaN becomes null and timestamps
// ISO 8601 strings.
func propertyValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02T15:04:05.999999999")
	default:
		return x
	}
}
