package models

import (
	"time"
)

// DocumentRecord is one processed upload. Records are append-only: once inserted
// nothing in this service updates or deletes them.
type DocumentRecord struct {
	ID             string         `json:"id" db:"id" bson:"-"`
	FileName       string         `json:"file_name" db:"file_name" bson:"file_name"`
	UploadedAt     time.Time      `json:"uploaded_at" db:"uploaded_at" bson:"uploaded_at"`
	Classification *string        `json:"classification,omitempty" db:"classification" bson:"classification,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty" db:"confidence" bson:"confidence,omitempty"`
	ExtractedData  *ExtractedData `json:"extracted_data,omitempty" db:"extracted_data" bson:"extracted_data,omitempty"`
	Warnings       []string       `json:"warnings" db:"warnings" bson:"warnings"`
}

type ExtractedData struct {
	Dates   []string `json:"dates" bson:"dates"`
	Amounts []Amount `json:"amounts" bson:"amounts"`
	Company *string  `json:"company,omitempty" bson:"company,omitempty"`
}

// Amount is a monetary value found in a document. An empty Currency means the
// delegate could not tell which currency the amount was in.
type Amount struct {
	Amount   float64 `json:"amount" bson:"amount"`
	Currency string  `json:"currency,omitempty" bson:"currency,omitempty"`
}

// DocumentSummary is the display projection used by recent-document listings.
type DocumentSummary struct {
	FileName       string    `json:"file_name"`
	Classification *string   `json:"classification"`
	Confidence     *float64  `json:"confidence"`
	UploadedAt     time.Time `json:"uploaded_at"`
	Warnings       []string  `json:"warnings"`
}

func (d *DocumentRecord) Summary() DocumentSummary {
	warnings := d.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return DocumentSummary{
		FileName:       d.FileName,
		Classification: d.Classification,
		Confidence:     d.Confidence,
		UploadedAt:     d.UploadedAt,
		Warnings:       warnings,
	}
}

// HasWarnings reports whether the record counts towards the dashboard error rate.
func (d *DocumentRecord) HasWarnings() bool {
	return len(d.Warnings) > 0
}

const EventDocumentProcessed = "document_processed"

// NotificationEvent tells observers that something changed. It is never
// persisted and carries no more than observers need to decide to re-query.
type NotificationEvent struct {
	Type           string   `json:"event"`
	DocumentID     string   `json:"fileId"`
	Classification *string  `json:"classification"`
	Confidence     *float64 `json:"confidence"`
}

func NewProcessedEvent(rec *DocumentRecord) NotificationEvent {
	return NotificationEvent{
		Type:           EventDocumentProcessed,
		DocumentID:     rec.ID,
		Classification: rec.Classification,
		Confidence:     rec.Confidence,
	}
}
