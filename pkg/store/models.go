package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used by the SQL backend.
type RecordModel struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:128"`
	Position   int            `gorm:"not null;index"`
	Data       datatypes.JSON `gorm:"not null"`
}

type RecordIndexModel struct {
	Collection string `gorm:"primaryKey;size:64;index:idx_record_lookup,priority:1"`
	Field      string `gorm:"primaryKey;size:64;index:idx_record_lookup,priority:2"`
	RecordID   string `gorm:"primaryKey;size:128"`
	Value      string `gorm:"not null;size:255;index:idx_record_lookup,priority:3"`
}

type KeyedRecordModel struct {
	Collection string         `gorm:"primaryKey;size:64"`
	RecordKey  string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

type BlobModel struct {
	BookID    string    `gorm:"primaryKey;size:128"`
	Data      []byte    `gorm:"not null"`
	SizeBytes int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func recordToModel(coll Collection, pos int, r Record) RecordModel {
	return RecordModel{
		Collection: string(coll),
		ID:         r.ID,
		Position:   pos,
		Data:       datatypes.JSON(cloneBytes(r.Data)),
	}
}

func recordFromModel(m RecordModel, index map[string]string) Record {
	return Record{ID: m.ID, Index: index, Data: cloneBytes(m.Data)}
}

func indexModels(coll Collection, r Record) []RecordIndexModel {
	out := make([]RecordIndexModel, 0, len(r.Index))
	for field, value := range r.Index {
		out = append(out, RecordIndexModel{
			Collection: string(coll),
			Field:      field,
			RecordID:   r.ID,
			Value:      value,
		})
	}
	return out
}
