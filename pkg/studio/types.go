package studio

import "github.com/tunivo/studio/pkg/models"

// Stage names a step of Produce, reported through JobRequest.OnProgress.
type Stage string

const (
	StageAnalyze  Stage = "analyze"
	StageGenerate Stage = "generate"
	StageAssemble Stage = "assemble"
	StageSelfEdit Stage = "self-edit"
	StageExport   Stage = "export"
	StageDone     Stage = "done"
)

// JobRequest describes one music video to produce.
type JobRequest struct {
	JobID      string // Idempotency key for billing; generated when empty
	Analysis   models.Analysis
	Lyrics     models.Lyrics
	Prompt     string
	Mode       models.Mode // Overrides Analysis.Mode when set
	Aspect     string      // 16:9, 9:16 or 1:1
	AudioPath  string      // Soundtrack, required for export
	OutputPath string      // Export target; empty skips export
	OnProgress func(stage Stage, fraction float64)
}

// JobResult is everything a finished job produced.
type JobResult struct {
	JobID       string                 `json:"job_id"`
	Plan        models.Plan            `json:"plan"`
	Clips       []models.GeneratedClip `json:"clips"`
	Timeline    models.Timeline        `json:"timeline"`
	Score       models.Score           `json:"score"`
	Reservation models.Reservation     `json:"reservation"`
	OutputPath  string                 `json:"output_path,omitempty"`

	// Reused is set when the job id had already been committed, so this run
	// was not charged again.
	Reused bool `json:"reused"`
}
