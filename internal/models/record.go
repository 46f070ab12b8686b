package models

import (
	"regexp"
	"time"
)

// Record is one user's video generation request and its lifecycle state.
type Record struct {
	ID            string     `json:"id" db:"id"`
	KoreanPrompt  string     `json:"koreanPrompt" db:"korean_prompt"`
	EnglishPrompt string     `json:"englishPrompt" db:"english_prompt"`
	UserEmail     string     `json:"userEmail" db:"user_email"`
	Status        Status     `json:"status" db:"status"`
	Model         string     `json:"model,omitempty" db:"model"`
	AspectRatio   string     `json:"aspectRatio,omitempty" db:"aspect_ratio"`
	VideoURL      string     `json:"videoUrl,omitempty" db:"video_url"`
	ThumbnailURL  string     `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	GCSURI        string     `json:"gcsUri,omitempty" db:"gcs_uri"`
	Duration      *int       `json:"duration,omitempty" db:"duration"`
	Resolution    *string    `json:"resolution,omitempty" db:"resolution"`
	ErrorMessage  string     `json:"errorMessage,omitempty" db:"error_message"`
	RetryCount    int        `json:"retryCount" db:"retry_count"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

// Media is the output of a successful post-processing run.
type Media struct {
	VideoURL     string
	ThumbnailURL string
	GCSURI       string
	Duration     *int
	Resolution   *string
}

// Setting keys.
const (
	SettingGenerationEnabled = "video_generation_enabled"
)

// DefaultSettings are inserted on first database initialization.
var DefaultSettings = map[string]string{
	SettingGenerationEnabled: "true",
}

var resolutionPattern = regexp.MustCompile(`^\d+x\d+$`)

// ValidResolution reports whether s looks like "1280x720".
func ValidResolution(s string) bool {
	return resolutionPattern.MatchString(s)
}

// ValidDuration reports whether d is a usable duration in seconds.
func ValidDuration(d int) bool {
	return d > 0
}
