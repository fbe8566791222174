package api

import (
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/worker"
)

type EnqueueMonthRequest struct {
	Year  int `json:"year" binding:"required,min=1"`
	Month int `json:"month" binding:"required,min=1,max=12"`
}

type EnqueueYearRequest struct {
	Year int `json:"year" binding:"required,min=1"`
}

// DestinationRequest selects a new export destination root. A nil path
// unselects the destination.
type DestinationRequest struct {
	Path *string `json:"path"`
}

type EnqueueResponse struct {
	Queued int `json:"queued"`
}

type RecordResponse struct {
	ID       string `json:"id"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	RelPath  string `json:"rel_path"`
	Filename string `json:"file_name,omitempty"`
	Status   string `json:"status"`

	ExportDate *time.Time `json:"export_date,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type RecordsListResponse struct {
	Records []*RecordResponse `json:"records"`
}

type MonthSummaryResponse struct {
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	ExportedCount int    `json:"exported_count"`
	TotalCount    int    `json:"total_count"`
	Status        string `json:"status"`
}

type QueueStatusResponse struct {
	Depth   int  `json:"depth"`
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type DestinationResponse struct {
	Key string `json:"key,omitempty"`
}

func NewRecordResponse(rec *core.ExportRecord) *RecordResponse {
	if rec == nil {
		return nil
	}
	var exportDate *time.Time
	if rec.ExportDate != nil {
		t := *rec.ExportDate
		exportDate = &t
	}
	return &RecordResponse{
		ID:       rec.ID,
		Year:     rec.Year,
		Month:    rec.Month,
		RelPath:  rec.RelPath,
		Filename: rec.Filename,
		Status:   string(rec.Status),

		ExportDate: exportDate,
		LastError:  rec.LastError,
	}
}

func NewRecordsListResponse(recs []*core.ExportRecord) *RecordsListResponse {
	resp := &RecordsListResponse{
		Records: make([]*RecordResponse, 0, len(recs)),
	}
	for _, r := range recs {
		if r == nil {
			continue
		}
		resp.Records = append(resp.Records, NewRecordResponse(r))
	}
	return resp
}

func NewMonthSummaryResponse(year, month int, s core.MonthSummary) *MonthSummaryResponse {
	return &MonthSummaryResponse{
		Year:          year,
		Month:         month,
		ExportedCount: s.ExportedCount,
		TotalCount:    s.TotalCount,
		Status:        string(s.Status),
	}
}

func NewQueueStatusResponse(s worker.QueueStatus) *QueueStatusResponse {
	return &QueueStatusResponse{
		Depth:   s.Depth,
		Running: s.Running,
		Paused:  s.Paused,
	}
}
