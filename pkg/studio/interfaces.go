package studio

import (
	"context"

	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/ledger"
)

type Service interface {
	Plan(analysis models.Analysis, lyrics models.Lyrics, prompt string) (models.Plan, error)
	Evaluate(tl models.Timeline, ctx models.EvaluationContext, mode models.Mode) (models.Score, error)
	Produce(ctx context.Context, req JobRequest) (*JobResult, error)
	Export(ctx context.Context, tl models.Timeline, audioPath, outputPath string) error
	Ledger() *ledger.Ledger
	Close() error
}

// Exporter renders a timeline with its soundtrack to a file.
type Exporter interface {
	Render(ctx context.Context, tl models.Timeline, audioPath, outputPath string) error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
