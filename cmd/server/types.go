package main

import (
	"encoding/json"
	"fmt"

	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/provider"
)

// Request limits
const (
	// MaxBodyBytes bounds a job submission, analysis curves included.
	MaxBodyBytes = 4 << 20

	// UserHeader identifies the caller. The frontend sets it after login.
	UserHeader = "X-User-Email"

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Signature"
)

// Job statuses
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// LoginRequest is the request body for POST /api/auth/login
type LoginRequest struct {
	Email string `json:"email"`
	Plan  string `json:"plan,omitempty"` // Only used when the account is new
}

type LoginResponse struct {
	Email     string `json:"email"`
	Plan      string `json:"plan"`
	Allowance int64  `json:"allowance"`
}

// CreateJobRequest is the request body for POST /api/jobs
type CreateJobRequest struct {
	JobID       string          `json:"job_id,omitempty"`
	Analysis    models.Analysis `json:"analysis"`
	Lyrics      models.Lyrics   `json:"lyrics"`
	Prompt      string          `json:"prompt"`
	Mode        string          `json:"mode,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`

	// AudioPath is relative to the server's audio directory. Without it the
	// job is planned, generated and scored but not exported.
	AudioPath string `json:"audio_path,omitempty"`
}

// Validate checks the fields that can be rejected before any work starts.
func (r *CreateJobRequest) Validate() error {
	if _, err := models.ParseMode(r.Mode); err != nil {
		return err
	}
	if _, err := provider.ParseAspect(r.AspectRatio); err != nil {
		return err
	}
	if len(r.JobID) > 64 {
		return fmt.Errorf("job_id longer than 64 characters")
	}
	return nil
}

// CreateJobResponse is returned with 202 Accepted
type CreateJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobResponse is the response for GET /api/jobs/{id}
type JobResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Progress    float64         `json:"progress"`
	Message     string          `json:"message,omitempty"`
	Report      json.RawMessage `json:"report,omitempty"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	DownloadURL string          `json:"download_url,omitempty"`
}

// CreditsResponse is the response for GET /api/credits
type CreditsResponse struct {
	Plan      string `json:"plan"`
	Allowance int64  `json:"allowance"`
	Held      int64  `json:"held"`
	Available int64  `json:"available"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
