package parquet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// fragment is one data file of a dataset with the hive partition values
// encoded in its key.
type fragment struct {
	obj        domain.ObjectInfo
	partitions map[string]string
}

// dataset is a resolved single-file or hive-partitioned dataset.
type dataset struct {
	path          string
	fragments     []fragment
	partitionKeys []string
}

func (d *dataset) isPartition(column string) bool {
	return slices.Contains(d.partitionKeys, column)
}

// resolveDataset lists the objects behind path and parses key=value
// directory segments. Files whose name starts with '_' or '.' are metadata
// and skipped.
func resolveDataset(ctx context.Context, store domain.ObjectStore, dsPath string) (*dataset, error) {
	objs, err := store.List(ctx, dsPath)
	if err != nil {
		return nil, err
	}

	root := strings.Trim(dsPath, "/")
	ds := &dataset{path: dsPath}
	for _, obj := range objs {
		base := path.Base(obj.Key)
		if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
			continue
		}
		frag := fragment{obj: obj}
		if rel, ok := strings.CutPrefix(obj.Key, root+"/"); ok {
			parts, keys, err := parsePartitions(rel)
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", obj.Key, err)
			}
			frag.partitions = parts
			for _, k := range keys {
				if !slices.Contains(ds.partitionKeys, k) {
					ds.partitionKeys = append(ds.partitionKeys, k)
				}
			}
		}
		ds.fragments = append(ds.fragments, frag)
	}

	if len(ds.fragments) == 0 {
		return nil, errors.New("no data files found")
	}
	return ds, nil
}

// parsePartitions extracts key=value pairs from the directory part of a
// key relative to the dataset root. Values are URL-unescaped.
func parsePartitions(rel string) (map[string]string, []string, error) {
	segments := strings.Split(rel, "/")
	values := make(map[string]string)
	var keys []string
	for _, seg := range segments[:len(segments)-1] {
		k, v, ok := strings.Cut(seg, "=")
		if !ok || k == "" {
			continue
		}
		unescaped, err := url.PathUnescape(v)
		if err != nil {
			return nil, nil, fmt.Errorf("partition segment %q: %w", seg, err)
		}
		values[k] = unescaped
		keys = append(keys, k)
	}
	return values, keys, nil
}

// mayMatch reports whether a fragment can hold rows matching every
// condition on a partition column.
func (f fragment) mayMatch(conds []domain.Condition) bool {
	for _, c := range conds {
		v, ok := f.partitions[c.Column]
		if !ok {
			// A fragment without the key has a null partition value.
			return false
		}
		if !c.Matches(v) {
			return false
		}
	}
	return true
}
