package wal

import (
	"time"

	"github.com/valtteriluomapareto/vibe-icloud-photo-export/internal/core"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Mutation is the unit of durability. An upsert carries a full record
// snapshot (not a diff); a delete carries only the id. Replaying the
// mutation stream in order reconstructs the exact record map.
type Mutation struct {
	Version int    `json:"version"`
	Op      Op     `json:"op"`
	ID      string `json:"id"`

	Record *core.ExportRecord `json:"record,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

const CurrentVersion = 1

func NewUpsert(rec *core.ExportRecord, when time.Time) Mutation {
	return Mutation{
		Version:   CurrentVersion,
		Op:        OpUpsert,
		ID:        rec.ID,
		Record:    rec.CloneRecord(),
		CreatedAt: when,
	}
}

func NewDelete(id string, when time.Time) Mutation {
	return Mutation{
		Version:   CurrentVersion,
		Op:        OpDelete,
		ID:        id,
		CreatedAt: when,
	}
}

// Apply replays mutations in order on top of records.
func Apply(records map[string]*core.ExportRecord, muts []Mutation) {
	for _, m := range muts {
		switch m.Op {
		case OpUpsert:
			if m.Record == nil {
				continue
			}
			records[m.Record.ID] = m.Record.CloneRecord()
		case OpDelete:
			delete(records, m.ID)
		}
	}
}
