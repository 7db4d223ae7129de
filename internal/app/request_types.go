package app

// ArchiveRequest is the input for ArchiveOldLists.
type ArchiveRequest struct {
	Days   int
	DryRun bool
}

// DateRangeRequest bounds a report. Dates are YYYY-MM-DD; empty means unbounded.
// To is inclusive of the whole day.
type DateRangeRequest struct {
	From string
	To   string
}

// CashExportRequest is the input for CashExport.
type CashExportRequest struct {
	DateRangeRequest
	Category   string
	Kind       string
	Descending bool
	Limit      int
}

// CreateListRequest is the input for creating a draft production list.
type CreateListRequest struct {
	Name        string
	Description string
	Bows        []PlannedBowRequest
}

// PlannedBowRequest is a single planned bow within a CreateListRequest.
type PlannedBowRequest struct {
	BowCode string
	Count   int
}

// UpdateSettingsRequest carries the settings fields to change. Nil fields keep their value.
type UpdateSettingsRequest struct {
	CompanyName            *string
	CurrencyLabel          *string
	LowStockAlertThreshold *int64
}
