package core

import (
	"fmt"
	"sort"
	"time"
)

// ExportRecord tracks the export outcome of a single media item.
// Records are keyed by the media library's stable identifier and
// filed under a (year, month) bucket.
type ExportRecord struct {
	ID    string `json:"id"`
	Year  int    `json:"year"`
	Month int    `json:"month"`
	// RelPath is the relative export subpath derived from the bucket,
	// e.g. "2025/02/".
	RelPath string `json:"rel_path"`
	// Filename is the final on-disk name. It can be empty until the
	// export job finishes writing.
	Filename string       `json:"file_name,omitempty"`
	Status   RecordStatus `json:"status"`

	ExportDate *time.Time `json:"export_date,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func NewRecord(id string, year, month int) *ExportRecord {
	return &ExportRecord{
		ID:      id,
		Year:    year,
		Month:   month,
		RelPath: RelPathFor(year, month),
		Status:  RecordStatusPending,
	}
}

// IsDone reports whether the item has been fully exported.
func (r *ExportRecord) IsDone() bool {
	return r != nil && r.Status == RecordStatusDone
}

func (r *ExportRecord) CloneRecord() *ExportRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExportDate != nil {
		t := *r.ExportDate
		c.ExportDate = &t
	}
	return &c
}

func CloneRecords(recs []*ExportRecord) []*ExportRecord {
	if len(recs) == 0 {
		return nil
	}
	res := make([]*ExportRecord, 0, len(recs))
	for _, r := range recs {
		res = append(res, r.CloneRecord())
	}
	return res
}

// SortRecords sorts records in-place by bucket, then id.
func SortRecords(recs []*ExportRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.ID < b.ID
	})
}

// RelPathFor derives the export subpath for a bucket, e.g. "2025/02/".
func RelPathFor(year, month int) string {
	return fmt.Sprintf("%04d/%02d/", year, month)
}
