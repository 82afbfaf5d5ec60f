package domain

import "time"

// DownloadEvent records one successfully built archive.
type DownloadEvent struct {
	ID                    string    `json:"id"`
	Username              string    `json:"username"`
	Gauges                []string  `json:"gauges"`
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	WaterQualityVariables []string  `json:"water_quality_variables"`
	Datasets              []string  `json:"datasets"`
	Entries               int       `json:"entries"`
	ArchiveBytes          int       `json:"archive_bytes"`
	CreatedAt             time.Time `json:"created_at"`
}
