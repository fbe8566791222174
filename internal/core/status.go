package core

// RecordStatus is a state of an ExportRecord.
type RecordStatus string

type MonthStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusInProgress RecordStatus = "inProgress"
	RecordStatusDone       RecordStatus = "done"
	RecordStatusFailed     RecordStatus = "failed"

	MonthStatusNotExported MonthStatus = "notExported"
	MonthStatusPartial     MonthStatus = "partial"
	MonthStatusComplete    MonthStatus = "complete"
)

// MonthSummary is the aggregate export progress of one (year, month) bucket.
// Failed items count toward neither exported nor complete.
type MonthSummary struct {
	ExportedCount int         `json:"exported_count"`
	TotalCount    int         `json:"total_count"`
	Status        MonthStatus `json:"status"`
}

// NewMonthSummary obtains the bucket status. Returns:
//   - No exported items: not exported
//   - Every item exported (and there is at least one): complete
//   - Otherwise: partial
func NewMonthSummary(exported, total int) MonthSummary {
	st := MonthStatusPartial
	switch {
	case exported == 0:
		st = MonthStatusNotExported
	case total > 0 && exported >= total:
		st = MonthStatusComplete
	}
	return MonthSummary{
		ExportedCount: exported,
		TotalCount:    total,
		Status:        st,
	}
}
