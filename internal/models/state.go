package models

// SyncReport summarizes one ingestion run.
type SyncReport struct {
	Fingerprint string   `json:"fingerprint"`
	Skipped     bool     `json:"skipped"`
	Rebuilt     bool     `json:"rebuilt"`
	Added       int      `json:"added"`
	Updated     int      `json:"updated"`
	Removed     int      `json:"removed"`
	Unchanged   int      `json:"unchanged"`
	Failed      []string `json:"failed,omitempty"`
	Chunks      int      `json:"chunks_embedded"`
	DurationMS  int64    `json:"duration_ms"`
}

// IndexStatus describes the current index for status reporting.
type IndexStatus struct {
	Documents      int64  `json:"documents"`
	Records        int64  `json:"records"`
	SnapshotSize   int    `json:"snapshot_size"`
	Fingerprint    string `json:"fingerprint"`
	EmbedderModel  string `json:"embedder_model"`
	Dimensions     int    `json:"dimensions"`
	Backend        string `json:"backend"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
