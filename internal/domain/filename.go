package domain

import "strings"

// EntryBase derives the archive entry base name for a gauge and a dataset or
// variable label. The gauge's source prefix (up to and including the first
// hyphen) is dropped; labels are lower-cased with '/' and ' ' turned into '-'.
func EntryBase(gauge, label string) string {
	slug := strings.ToLower(strings.NewReplacer("/", "-", " ", "-").Replace(label))
	if _, rest, found := strings.Cut(gauge, "-"); found {
		gauge = rest
	}
	return gauge + "-" + slug
}

// EntryName is EntryBase with the ".csv" extension.
func EntryName(gauge, label string) string {
	return EntryBase(gauge, label) + ".csv"
}
