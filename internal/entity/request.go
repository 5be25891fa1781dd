package entity

import (
	"time"

	"github.com/joseph-ayodele/expense-extractor/constants"
)

// Request is one user-submitted extraction job.
type Request struct {
	ID          string                 `json:"request_id"`
	Description string                 `json:"description,omitempty"`
	Locale      string                 `json:"locale,omitempty"`
	Currency    string                 `json:"currency,omitempty"`
	Files       []SubmittedFile        `json:"files"`
	State       constants.RequestState `json:"state"`
	Progress    float64                `json:"progress"`
	Message     string                 `json:"message"`
	Errors      []FileError            `json:"errors,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// SubmittedFile is one source file of a request. Exactly one of UploadKey
// and Ref is set.
type SubmittedFile struct {
	Index     int      `json:"index"` // 1-based
	Filename  string   `json:"filename"`
	MimeType  string   `json:"mime"`
	Size      int64    `json:"size"`
	UploadKey string   `json:"upload_key,omitempty"`
	Ref       *FileRef `json:"ref,omitempty"`
}

// FileRef points at a file held by the internal ERP API.
type FileRef struct {
	Kod      int64  `json:"kod"`
	FileID   int64  `json:"fileId"`
	FileHash string `json:"fileHash"`
}

// FileError records a per-file failure that did not abort the request.
type FileError struct {
	Filename  string    `json:"filename"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an append-only state transition record of a request.
type Event struct {
	RequestID string                 `json:"request_id"`
	Seq       int64                  `json:"seq"`
	State     constants.RequestState `json:"state"`
	Progress  float64                `json:"progress"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}
