package store

// Source is an operator-registered tender page the pipeline monitors.
type Source struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Kind            string `json:"kind"` // "listing" | "single"
	Enabled         bool   `json:"enabled"`
	Defended        bool   `json:"defended"` // site known to block plain clients
	IntervalHours   int    `json:"interval_hours"`
	MinBodyBytes    int    `json:"min_body_bytes"`
	LastContentHash string `json:"last_content_hash"`
	LastScrapedAt   *int64 `json:"last_scraped_at,omitempty"`
	LastStatus      string `json:"last_status"`
	LastError       string `json:"last_error"`
	ConsecFailures  int    `json:"consecutive_failures"`
	TotalRuns       int    `json:"total_runs"`
	TotalNewRecords int    `json:"total_new_records"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Transaction is a stored tender record. Rows are insert-only: a changed
// real-world fact arrives as a new row with a new data hash, never an edit.
type Transaction struct {
	ID                string   `json:"id"`
	SourceID          string   `json:"source_id"`
	OwnerID           string   `json:"owner_id"`
	ProjectName       string   `json:"project_name"`
	ProcurementNumber *string  `json:"procurement_number"`
	BiddingUnit       *string  `json:"bidding_unit"`
	BidderUnit        *string  `json:"bidder_unit"`
	WinningUnit       *string  `json:"winning_unit"`
	TotalPrice        *float64 `json:"total_price"`
	Quantity          *float64 `json:"quantity"`
	UnitPrice         *float64 `json:"unit_price"`
	DetailLink        *string  `json:"detail_link"`
	IsChannel         *bool    `json:"is_channel"`
	CertYears         []string `json:"cert_years"`
	BidStartDate      *string  `json:"bid_start_date"`
	BidEndDate        *string  `json:"bid_end_date"`
	AwardDate         *string  `json:"award_date"`
	PublishDate       *string  `json:"publish_date"`
	DataHash          string   `json:"data_hash"`
	FirstSeenAt       int64    `json:"first_seen_at"`
	LastUpdatedAt     int64    `json:"last_updated_at"`
}

// RunLog is one orchestration cycle outcome for one source. Append-only.
type RunLog struct {
	ID               string `json:"id"`
	SourceID         string `json:"source_id"`
	OwnerID          string `json:"owner_id"`
	Status           string `json:"status"` // "success" | "error" | "partial" | "unchanged"
	RecordsSeen      int    `json:"records_seen"`
	NewRecords       int    `json:"new_records"`
	DuplicateRecords int    `json:"duplicate_records"`
	DurationMs       int64  `json:"duration_ms"`
	ErrorDetail      string `json:"error_detail"`
	CreatedAt        int64  `json:"created_at"`
}

// Notification is a stored pipeline event for the owner. The pipeline only
// writes these; reading and the read flag belong to the operator UI.
type Notification struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Kind         string `json:"kind"` // "new_data" | "scrape_error"
	Title        string `json:"title"`
	Message      string `json:"message"`
	Link         string `json:"link"`
	MetadataJSON string `json:"metadata_json"`
	IsRead       bool   `json:"is_read"`
	CreatedAt    int64  `json:"created_at"`
}

// Stats holds aggregate counters for the whole database.
type Stats struct {
	Sources      int `json:"sources"`
	Transactions int `json:"transactions"`
	RunLogs      int `json:"run_logs"`
}
