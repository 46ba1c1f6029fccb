// Package domain defines the persistence models for screenshot analyses,
// the result cache, per-user daily usage and the read-only catalog
// (users, categories, advice, preference questions) the pipeline consumes.
// These types are mapped with GORM and form the core data layer of the
// service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// RequestRecord is the durable record of one completed analysis. It is
// written once per successful or cache-hit pipeline run and is immutable
// afterwards except for Rating, which a separate feedback flow owns.
//
// Fields:
//   - ID: server-generated UUID primary key (char(36)).
//   - UserID: owner; indexed together with CreatedAt for history paging.
//   - CategoryID / AdviceID: catalog selection that produced the analysis.
//   - OCRText: concatenated text extracted from the screenshots.
//   - ModelResponse: generated advice text.
//   - ImageURLs: stored screenshot URLs, in upload order.
//   - ImageCount: len(ImageURLs); summed for daily usage reconciliation.
//   - CreatedAt: insertion timestamp.
//   - Rating: nullable user rating.
type RequestRecord struct {
	ID            string                      `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string                      `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_user_requests,priority:1"`
	CategoryID    string                      `json:"category_id"    gorm:"type:varchar(64);not null"`
	AdviceID      string                      `json:"advice_id"      gorm:"type:varchar(64);not null"`
	OCRText       string                      `json:"ocr_text"       gorm:"type:text;not null;default:''"`
	ModelResponse string                      `json:"model_response" gorm:"type:text;not null"`
	ImageURLs     datatypes.JSONSlice[string] `json:"image_url"      gorm:"column:image_url;not null"`
	ImageCount    int                         `json:"image_count"    gorm:"not null;default:0"`
	CreatedAt     time.Time                   `json:"created_at"     gorm:"index:idx_user_requests,priority:2"`
	Rating        *int                        `json:"rating,omitempty"`
}

// TableName returns the database table name for RequestRecord.
func (RequestRecord) TableName() string { return "requests" }

// CacheResult is the JSON payload of a cache entry.
type CacheResult struct {
	ModelResponse string `json:"model_response"`
	OCRText       string `json:"ocr_text"`
}

// CacheEntry stores a previously computed analysis under its fingerprint.
// A live entry is never updated. Once ExpiresAt has passed it no longer
// matches lookups, and the next insert for the same key overwrites it.
type CacheEntry struct {
	ID         uint                            `json:"-"           gorm:"primaryKey;autoIncrement"`
	CacheKey   string                          `json:"cache_key"   gorm:"type:char(64);not null;uniqueIndex:ux_cache_key"`
	RequestID  string                          `json:"request_id"  gorm:"type:char(36)"`
	CategoryID string                          `json:"category_id" gorm:"type:varchar(64);not null"`
	AdviceID   string                          `json:"advice_id"   gorm:"type:varchar(64);not null"`
	TextHash   string                          `json:"text_hash"   gorm:"type:char(64);not null"`
	ImagesKey  string                          `json:"images_key"  gorm:"type:char(64);not null"`
	Result     datatypes.JSONType[CacheResult] `json:"result"      gorm:"not null"`
	ExpiresAt  time.Time                       `json:"expires_at"  gorm:"not null;index"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string { return "analysis_cache" }

// DailyUsage counts images a user has reserved within one UTC day
// (Day is formatted as 2006-01-02).
type DailyUsage struct {
	UserID     string    `gorm:"type:varchar(64);primaryKey"`
	Day        string    `gorm:"type:char(10);primaryKey"`
	ImagesUsed int       `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

// TableName returns the database table name for DailyUsage.
func (DailyUsage) TableName() string { return "daily_usage" }

// User is the subset of account state the pipeline reads: role for quota
// bypass, approval gate and an optional per-user daily limit override.
type User struct {
	ID             string    `json:"id"       gorm:"type:varchar(64);primaryKey"`
	Role           string    `json:"role"     gorm:"type:varchar(32);not null;default:'user'"`
	Approved       bool      `json:"approved" gorm:"not null;default:false"`
	MaxDailyImages *int      `json:"max_daily_images,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Category is a game or genre the user can ask about.
type Category struct {
	ID           string `json:"id"   gorm:"type:varchar(64);primaryKey"`
	Name         string `json:"name" gorm:"type:varchar(255);not null"`
	SystemPrompt string `json:"-"    gorm:"type:text"`
}

// TableName returns the database table name for Category.
func (Category) TableName() string { return "categories" }

// Advice is a kind of help offered within a category.
type Advice struct {
	ID          string `json:"id"          gorm:"type:varchar(64);primaryKey"`
	CategoryID  string `json:"category_id" gorm:"type:varchar(64);not null;index"`
	Name        string `json:"name"        gorm:"type:varchar(255);not null"`
	Description string `json:"description" gorm:"type:text"`
}

// TableName returns the database table name for Advice.
func (Advice) TableName() string { return "advice" }

// PreferenceOption is one selectable answer of a preference question.
type PreferenceOption struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// PreferenceQuestion is an onboarding question whose answers are stored as
// option codes.
type PreferenceQuestion struct {
	Key      string                                `json:"key"     gorm:"type:varchar(64);primaryKey"`
	Label    string                                `json:"label"   gorm:"type:varchar(255);not null"`
	Options  datatypes.JSONSlice[PreferenceOption] `json:"options"`
	Position int                                   `json:"-"       gorm:"not null;default:0"`
}

// TableName returns the database table name for PreferenceQuestion.
func (PreferenceQuestion) TableName() string { return "preference_questions" }

// UserPreference holds a user's answer codes (or free text) for one
// question.
type UserPreference struct {
	UserID      string                      `gorm:"type:varchar(64);primaryKey"`
	QuestionKey string                      `gorm:"type:varchar(64);primaryKey"`
	Answers     datatypes.JSONSlice[string] `gorm:"not null"`
	UpdatedAt   time.Time
}

// TableName returns the database table name for UserPreference.
func (UserPreference) TableName() string { return "user_preferences" }
