// Package domain models the STREAMS hydrological gauge datasets and the
// rules for slicing them into downloads.
//
// # Data Source
//
// STREAMS datasets are published as a HydroShare resource and stored as
// Parquet in HydroShare's S3-compatible object storage. Each dataset is either
// a single Parquet object or a directory of hive-style partitions, e.g.
//
//	<resource>/data/contents/streamflow.parquet
//	<resource>/data/contents/dynamic_historical_meteorology/gauge=USGS-01234567/part-0.parquet
//
// Every dataset carries a "gauge" column holding the stream identifier
// ("USGS-01234567") and a time column whose name depends on the dataset.
//
// # Time Semantics
//
// Instant datasets (Streamflow, Grab Samples, Historical Meteorology and the
// water quality table) store naive UTC timestamps. Year datasets (Land
// Use/Cover, Anthropogenic) store a calendar year, and the on-disk type of that
// year column has drifted between releases:
//
//	timestamp  ->  filter with naive UTC timestamps
//	string     ->  filter with "2010"
//	integer    ->  filter with 2010
//
// The filter literal must match the stored type; a literal of the wrong type
// never matches any cell. See [YearLiterals].
//
// # Archive Entries
//
// Each (gauge, dataset) pair becomes one CSV entry named by [EntryName]:
// "USGS-01234567" + "Land Use/Cover" -> "01234567-land-use-cover.csv".
// The source prefix of the gauge (up to and including the first hyphen) is
// dropped.
//
// # Credentials
//
// HydroShare returns delegated S3 keys in several JSON shapes depending on the
// API version. [ExtractCredentials] tries a fixed, ordered list of shapes and
// falls back to a bounded depth-first walk. See credentials.go.
package domain
