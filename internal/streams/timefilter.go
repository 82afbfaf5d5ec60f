package streams

import (
	"context"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// TimeLiterals picks the range bounds for a dataset given how its time
// column is stored. Instant datasets always compare timestamps.
func TimeLiterals(ds domain.Dataset, colType domain.ColumnType, start, end time.Time) (domain.Literal, domain.Literal) {
	if ds.Semantics == domain.TimeYear {
		return domain.YearLiterals(colType, start, end)
	}
	return domain.InstantLiterals(start, end)
}

// BuildTimeFilter returns the lower and upper literals for a range filter on
// the dataset's time column. Year datasets are inspected to match the stored
// representation. When inspection fails the bounds fall back to timestamps
// and the inspection error is returned alongside them; a read with those
// bounds matches nothing on a non-timestamp column instead of failing.
func (s *Service) BuildTimeFilter(ctx context.Context, src DatasetSource, ds domain.Dataset, start, end time.Time) (domain.Literal, domain.Literal, error) {
	if ds.Semantics != domain.TimeYear {
		lo, hi := domain.InstantLiterals(start, end)
		return lo, hi, nil
	}

	colType, err := s.schemas.columnType(ctx, src, ds.Path, ds.TimeColumn)
	if err != nil {
		lo, hi := domain.InstantLiterals(start, end)
		return lo, hi, err
	}
	lo, hi := TimeLiterals(ds, colType, start, end)
	return lo, hi, nil
}

// timeFilter is BuildTimeFilter with the fallback logged and counted.
func (s *Service) timeFilter(ctx context.Context, src DatasetSource, ds domain.Dataset, start, end time.Time) (domain.Literal, domain.Literal) {
	lo, hi, err := s.BuildTimeFilter(ctx, src, ds, start, end)
	if err != nil {
		s.logger.Warn("schema inspection failed, filtering with timestamps",
			"dataset", ds.Label,
			"column", ds.TimeColumn,
			"error", err,
		)
		s.metrics.SchemaFallbacks.Inc()
	}
	return lo, hi
}
