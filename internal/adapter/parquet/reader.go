// Package parquet reads filtered, column-projected slices of Parquet datasets
// from object storage.
//
// A dataset is either one Parquet object or a directory of objects laid out
// with hive-style key=value partition segments. Filters are pushed down in
// three steps: fragments are pruned on partition values, row groups are pruned
// on column chunk min/max statistics, and surviving rows are evaluated one by
// one. Only the projected and filtered columns are fetched.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// DefaultReadBufferSize is the size of ranged reads issued against remote objects.
const DefaultReadBufferSize = 1 << 20

// pandasIndexPrefix marks index columns written by pandas; they are not data.
const pandasIndexPrefix = "__index_level_"

// Options tunes how files are opened.
type Options struct {
	ReadBufferSize int
}

// Reader reads datasets from one object store.
type Reader struct {
	store    domain.ObjectStore
	fileOpts []parquet.FileOption
	logger   *slog.Logger
}

// NewReader creates a Reader over store.
func NewReader(store domain.ObjectStore, opts Options, logger *slog.Logger) *Reader {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	return &Reader{
		store: store,
		fileOpts: []parquet.FileOption{
			parquet.SkipPageIndex(true),
			parquet.SkipBloomFilters(true),
			parquet.ReadBufferSize(opts.ReadBufferSize),
		},
		logger: logger,
	}
}

// ColumnType inspects the footer of the dataset's first file and reports how
// column is stored. Partition columns are strings.
func (r *Reader) ColumnType(ctx context.Context, path, column string) (domain.ColumnType, error) {
	ds, err := resolveDataset(ctx, r.store, path)
	if err != nil {
		return domain.ColumnOther, &domain.DatasetReadError{Path: path, Err: err}
	}
	f, err := r.open(ctx, ds.fragments[0].obj)
	if err != nil {
		return domain.ColumnOther, &domain.DatasetReadError{Path: path, Err: err}
	}
	defer f.close()

	if leaf, ok := lookup(f.file.Schema(), column); ok {
		return classify(leaf.Node.Type()), nil
	}
	if ds.isPartition(column) {
		return domain.ColumnString, nil
	}
	return domain.ColumnOther, &domain.DatasetReadError{Path: path, Err: fmt.Errorf("column %q not found", column)}
}

// Read returns the rows of the dataset at path matching every condition of
// pred. When columns is empty every data column is returned, followed by
// partition columns. Any failure is a *domain.DatasetReadError.
func (r *Reader) Read(ctx context.Context, path string, pred domain.Predicate, columns []string) (*domain.Table, error) {
	table, err := r.read(ctx, path, pred, columns)
	if err != nil {
		return nil, &domain.DatasetReadError{Path: path, Err: err}
	}
	return table, nil
}

type scanStats struct {
	fragments, fragmentsPruned int
	groups, groupsPruned       int
}

func (r *Reader) read(ctx context.Context, path string, pred domain.Predicate, columns []string) (*domain.Table, error) {
	ds, err := resolveDataset(ctx, r.store, path)
	if err != nil {
		return nil, err
	}

	first, err := r.open(ctx, ds.fragments[0].obj)
	if err != nil {
		return nil, err
	}
	defer first.close()

	schema := first.file.Schema()
	if len(columns) == 0 {
		columns = defaultColumns(schema, ds)
	}
	for _, col := range append(pred.Columns(), columns...) {
		if _, ok := lookup(schema, col); !ok && !ds.isPartition(col) {
			return nil, fmt.Errorf("column %q not found", col)
		}
	}

	// Split conditions between partition values and file columns.
	var partConds, fileConds []domain.Condition
	for _, c := range pred {
		if _, inFile := lookup(schema, c.Column); !inFile {
			partConds = append(partConds, c)
		} else {
			fileConds = append(fileConds, c)
		}
	}

	table := &domain.Table{Columns: columns}
	var stats scanStats
	for i, frag := range ds.fragments {
		stats.fragments++
		if !frag.mayMatch(partConds) {
			stats.fragmentsPruned++
			continue
		}
		f := first
		if i > 0 {
			if f, err = r.open(ctx, frag.obj); err != nil {
				return nil, err
			}
		}
		scanErr := r.scanFile(ctx, f, frag, fileConds, table, &stats)
		if i > 0 {
			f.close()
		}
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", frag.obj.Key, scanErr)
		}
	}

	r.logger.Debug("dataset read",
		"path", path,
		"fragments", stats.fragments,
		"fragments_pruned", stats.fragmentsPruned,
		"row_groups", stats.groups,
		"row_groups_pruned", stats.groupsPruned,
		"rows", len(table.Rows),
	)
	return table, nil
}

// defaultColumns lists every flat data column of the schema followed by the
// partition columns not stored in the files.
func defaultColumns(schema *parquet.Schema, ds *dataset) []string {
	var cols []string
	for _, p := range schema.Columns() {
		name := strings.Join(p, ".")
		if strings.HasPrefix(name, pandasIndexPrefix) {
			continue
		}
		if leaf, ok := schema.Lookup(p...); ok && leaf.MaxRepetitionLevel > 0 {
			continue
		}
		cols = append(cols, name)
	}
	for _, k := range ds.partitionKeys {
		if _, ok := lookup(schema, k); !ok {
			cols = append(cols, k)
		}
	}
	return cols
}

func lookup(schema *parquet.Schema, column string) (parquet.LeafColumn, bool) {
	if leaf, ok := schema.Lookup(column); ok {
		return leaf, true
	}
	if strings.Contains(column, ".") {
		return schema.Lookup(strings.Split(column, ".")...)
	}
	return parquet.LeafColumn{}, false
}

type openFile struct {
	obj  domain.Object
	file *parquet.File
}

func (f *openFile) close() {
	if c, ok := f.obj.(io.Closer); ok {
		_ = c.Close()
	}
}

func (r *Reader) open(ctx context.Context, info domain.ObjectInfo) (*openFile, error) {
	obj, err := r.store.Open(ctx, info)
	if err != nil {
		return nil, err
	}
	f, err := parquet.OpenFile(obj, obj.Size(), r.fileOpts...)
	if err != nil {
		if c, ok := obj.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("open parquet file %s: %w", info.Key, err)
	}
	return &openFile{obj: obj, file: f}, nil
}

// boundCondition is a condition resolved against one file's schema.
type boundCondition struct {
	domain.Condition
	leaf parquet.LeafColumn
}

func (r *Reader) scanFile(ctx context.Context, f *openFile, frag fragment, conds []domain.Condition, table *domain.Table, stats *scanStats) error {
	schema := f.file.Schema()

	bound := make([]boundCondition, 0, len(conds))
	for _, c := range conds {
		leaf, ok := lookup(schema, c.Column)
		if !ok {
			return fmt.Errorf("column %q not found", c.Column)
		}
		bound = append(bound, boundCondition{Condition: c, leaf: leaf})
	}

	meta := f.file.Metadata()
	for g, rg := range f.file.RowGroups() {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.groups++
		if g < len(meta.RowGroups) && !groupMayMatch(meta.RowGroups[g], bound) {
			stats.groupsPruned++
			continue
		}
		if err := scanGroup(rg, schema, frag, bound, table); err != nil {
			return fmt.Errorf("row group %d: %w", g, err)
		}
	}
	return nil
}

// groupMayMatch uses column chunk statistics to decide whether any row of
// the group can satisfy every condition. Missing statistics never prune.
func groupMayMatch(rg format.RowGroup, conds []boundCondition) bool {
	for _, c := range conds {
		if c.leaf.ColumnIndex >= len(rg.Columns) {
			continue
		}
		md := rg.Columns[c.leaf.ColumnIndex].MetaData
		st := md.Statistics
		if md.NumValues > 0 && st.NullCount == md.NumValues {
			return false
		}
		typ := c.leaf.Node.Type()
		lo, okLo := statLiteral(typ, st.MinValue)
		hi, okHi := statLiteral(typ, st.MaxValue)
		if !okLo || !okHi {
			continue
		}
		if !c.MayMatchRange(lo, hi) {
			return false
		}
	}
	return true
}

func scanGroup(rg parquet.RowGroup, schema *parquet.Schema, frag fragment, conds []boundCondition, table *domain.Table) error {
	n := rg.NumRows()
	chunks := rg.ColumnChunks()
	loaded := make(map[int][]any)

	load := func(leaf parquet.LeafColumn) ([]any, error) {
		if cells, ok := loaded[leaf.ColumnIndex]; ok {
			return cells, nil
		}
		if leaf.MaxRepetitionLevel > 0 {
			return nil, fmt.Errorf("repeated column %s is not supported", strings.Join(leaf.Path, "."))
		}
		cells, err := readColumn(chunks[leaf.ColumnIndex], newDecoder(leaf.Node.Type()), n)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", strings.Join(leaf.Path, "."), err)
		}
		loaded[leaf.ColumnIndex] = cells
		return cells, nil
	}

	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	matched := n
	for _, c := range conds {
		cells, err := load(c.leaf)
		if err != nil {
			return err
		}
		for i, cell := range cells {
			if keep[i] && !c.Matches(cell) {
				keep[i] = false
				matched--
			}
		}
		if matched == 0 {
			return nil
		}
	}

	cols := make([][]any, len(table.Columns))
	for j, name := range table.Columns {
		leaf, ok := lookup(schema, name)
		if !ok {
			// Partition column, or a column missing from this fragment.
			if v, isPart := frag.partitions[name]; isPart {
				cols[j] = constantColumn(v, n)
			} else {
				cols[j] = make([]any, n)
			}
			continue
		}
		cells, err := load(leaf)
		if err != nil {
			return err
		}
		cols[j] = cells
	}

	for i := range n {
		if !keep[i] {
			continue
		}
		row := make([]any, len(cols))
		for j := range cols {
			row[j] = cols[j][i]
		}
		table.Rows = append(table.Rows, row)
	}
	return nil
}

func constantColumn(v any, n int64) []any {
	cells := make([]any, n)
	for i := range cells {
		cells[i] = v
	}
	return cells
}

// readColumn decodes every value of a flat column chunk.
func readColumn(chunk parquet.ColumnChunk, dec decoder, numRows int64) ([]any, error) {
	pages := chunk.Pages()
	defer pages.Close()

	cells := make([]any, 0, numRows)
	buf := make([]parquet.Value, 1024)
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		values := page.Values()
		for {
			k, err := values.ReadValues(buf)
			for _, v := range buf[:k] {
				cells = append(cells, dec.cell(v))
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read values: %w", err)
			}
			if k == 0 {
				break
			}
		}
	}

	if int64(len(cells)) != numRows {
		return nil, fmt.Errorf("decoded %d values for %d rows", len(cells), numRows)
	}
	return cells, nil
}
