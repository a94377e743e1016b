package transcribe

import (
	"strings"

	"subsync/internal/subtitle"
)

// State is the normalized lifecycle state of a remote job.
type State string

const (
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// TaskStatus mirrors the service's task resource.
type TaskStatus struct {
	TaskID           string             `json:"task_id"`
	Status           string             `json:"status"`
	Progress         int                `json:"progress"`
	Message          string             `json:"message"`
	Subtitles        []subtitle.Segment `json:"subtitles,omitempty"`
	DetectedLanguage string             `json:"detected_language,omitempty"`
	UpdatedAt        float64            `json:"updated_at,omitempty"`
}

// State normalizes the service's heterogeneous status strings. The backend
// reports per-stage statuses (pending, downloading, transcribing,
// translating); callers only care about the unified lifecycle.
func (t TaskStatus) State() State {
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "completed":
		return StateCompleted
	case "error", "failed":
		return StateFailed
	case "pending", "queued", "submitted":
		return StateSubmitted
	default:
		// downloading, transcribing, translating, running, ...
		return StateRunning
	}
}

// CacheRecord is the service-side cached result for one media identity.
type CacheRecord struct {
	VideoID   string             `json:"video_id"`
	Language  string             `json:"language"`
	Subtitles []subtitle.Segment `json:"subtitles"`
}

// submitRequest is the wire form of POST /transcribe.
type submitRequest struct {
	VideoURL   string `json:"video_url,omitempty"`
	Language   string `json:"language"`
	Service    string `json:"service"`
	APIKey     string `json:"api_key,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

// playlistRequest is the wire form of POST /transcribe_playlist.
type playlistRequest struct {
	PlaylistURL string `json:"playlist_url"`
	Language    string `json:"language"`
	Service     string `json:"service"`
	APIKey      string `json:"api_key,omitempty"`
	TargetLang  string `json:"target_lang,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}
