package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
)

// JSONMap stores an arbitrary JSON object in a single column.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// ImageRecord is one uploaded image. It is inserted as a placeholder right
// after the object is renamed and enriched once analysis completes.
type ImageRecord struct {
	ID        string `gorm:"type:text;primaryKey" json:"id"`
	ImageName string `gorm:"type:text;not null;index" json:"image_name"`
	ImageURL  string `gorm:"type:text;not null" json:"image_url"`

	Description string           `gorm:"type:text" json:"description,omitempty"`
	Confidence  *float64         `json:"confidence,omitempty"`
	Tags        JSONMap          `gorm:"type:jsonb" json:"tags,omitempty"`
	RawJSON     JSONMap          `gorm:"column:raw_json;type:jsonb" json:"raw_json,omitempty"`
	Embedding   *pgvector.Vector `gorm:"type:vector" json:"-"`

	PromptTokens     int `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int `gorm:"default:0" json:"total_tokens"`
	AnalysisAttempts int `gorm:"default:0" json:"analysis_attempts"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ImageRecord.
func (ImageRecord) TableName() string {
	return "images"
}

// IsAnalyzed reports whether the vision model has described the image.
func (r *ImageRecord) IsAnalyzed() bool {
	return r.Description != ""
}

// IsSearchable reports whether the record carries an embedding.
func (r *ImageRecord) IsSearchable() bool {
	return r.Embedding != nil && len(r.Embedding.Slice()) > 0
}

// ImageAnalysis is the enrichment written onto a placeholder row.
type ImageAnalysis struct {
	Description      string
	Confidence       float64
	Tags             JSONMap
	RawJSON          JSONMap
	Embedding        []float32
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Attempts         int
}

// ImageStats summarizes the images table for the gallery.
type ImageStats struct {
	Total      int64 `json:"total"`
	Analyzed   int64 `json:"analyzed"`
	Searchable int64 `json:"searchable"`
}
