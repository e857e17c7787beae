package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/agent"
	"github.com/tunivo/studio/pkg/studio/audio"
	"github.com/tunivo/studio/pkg/studio/export"
	"github.com/tunivo/studio/pkg/studio/ledger"
	"github.com/tunivo/studio/pkg/studio/montage"
	"github.com/tunivo/studio/pkg/studio/planner"
	"github.com/tunivo/studio/pkg/studio/provider"
	"github.com/tunivo/studio/pkg/utils"
)

// Studio is the default implementation of the Service interface.
type Studio struct {
	config     *Config
	log        Logger
	provider   provider.ClipProvider
	exporter   Exporter
	assembler  *montage.Assembler
	ledger     *ledger.Ledger
	ownsLedger bool
	scores     *scoreCache
}

var _ Service = (*Studio)(nil)

// New wires a Studio from opts. Unset collaborators fall back to the mock
// clip provider, the ffmpeg exporter and an in-memory ledger, or a sqlite
// ledger when a DB path is configured.
func New(opts ...Option) (*Studio, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().Named("studio")
	}
	if cfg.CreditsPerClip <= 0 {
		return nil, fmt.Errorf("%w: credits per clip %d", models.ErrInvalidAmount, cfg.CreditsPerClip)
	}

	s := &Studio{
		config:   cfg,
		log:      cfg.Logger,
		provider: cfg.Provider,
		exporter: cfg.Exporter,
	}

	if s.provider == nil {
		s.provider = provider.NewMockProvider(
			[]provider.MockOption{provider.WithOutputDir(filepath.Join(cfg.TempDir, "tunivo-clips"))},
			provider.WithFanoutLogger(cfg.Logger),
		)
	}
	if s.exporter == nil {
		s.exporter = export.New(export.WithTempDir(cfg.TempDir), export.WithLogger(cfg.Logger))
	}

	asmOpts := []montage.Option{montage.WithLogger(cfg.Logger)}
	if cfg.Transitions != nil {
		asmOpts = append(asmOpts, montage.WithTransitionPolicy(cfg.Transitions))
	}
	s.assembler = montage.New(asmOpts...)

	scores, err := newScoreCache(cfg.ScoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating score cache: %w", err)
	}
	s.scores = scores

	if cfg.Ledger != nil {
		s.ledger = cfg.Ledger
		return s, nil
	}

	store := cfg.LedgerStore
	s.ownsLedger = store == nil
	if store == nil && cfg.DBPath != "" {
		store, err = NewSQLiteLedgerStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger storage: %w", err)
		}
	}
	ledgerOpts := []ledger.Option{ledger.WithAccount(cfg.Account), ledger.WithLogger(cfg.Logger)}
	if store != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(store))
	}
	s.ledger, err = ledger.New(context.Background(), cfg.PlanTier, cfg.Allowance, ledgerOpts...)
	if err != nil {
		if s.ownsLedger && store != nil {
			store.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Studio) Plan(analysis models.Analysis, lyrics models.Lyrics, prompt string) (models.Plan, error) {
	return planner.Plan(analysis, lyrics, prompt)
}

// Evaluate scores tl under the preset for mode. Results are cached, and a
// cached score is returned as its own copy.
func (s *Studio) Evaluate(tl models.Timeline, ctx models.EvaluationContext, mode models.Mode) (models.Score, error) {
	a, err := agent.New(mode)
	if err != nil {
		return models.Score{}, err
	}

	key, err := scoreKey(tl, ctx, a.Mode())
	if err != nil {
		return models.Score{}, fmt.Errorf("hashing timeline: %w", err)
	}
	if score, ok := s.scores.get(key); ok {
		s.log.Debugf("score cache hit for %s", key[:12])
		return score, nil
	}

	score := a.Evaluate(tl, ctx)
	s.scores.add(key, score)
	return score, nil
}

// Export renders tl with the soundtrack at audioPath into outputPath.
func (s *Studio) Export(ctx context.Context, tl models.Timeline, audioPath, outputPath string) error {
	if audioPath == "" {
		return fmt.Errorf("%w: no soundtrack given", models.ErrExportFailed)
	}
	if outputPath == "" {
		return fmt.Errorf("%w: no output path given", models.ErrExportFailed)
	}

	// A soundtrack that disagrees with the planned duration still exports;
	// -shortest trims the longer stream.
	if d, err := audio.ProbeDuration(ctx, audioPath); err != nil {
		s.log.Warnf("could not probe soundtrack %s: %v", audioPath, err)
	} else if drift := math.Abs(d.Seconds() - tl.Target); tl.Target > 0 && drift > montage.DurationTolerance {
		s.log.Warnf("soundtrack is %.2fs but the timeline targets %.2fs", d.Seconds(), tl.Target)
	}

	return s.exporter.Render(ctx, tl, audioPath, outputPath)
}

// Produce runs one job end to end: plan, reserve credits, generate clips,
// assemble, self-edit and export. Credits are committed only once every
// stage has succeeded and released on any failure. Re-running a job id that
// was already committed does not charge again.
func (s *Studio) Produce(ctx context.Context, req JobRequest) (*JobResult, error) {
	report := func(stage Stage, fraction float64) {
		if req.OnProgress != nil {
			req.OnProgress(stage, fraction)
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = utils.NewJobID()
	}

	report(StageAnalyze, 0)
	analysis := req.Analysis
	if req.Mode != "" {
		analysis.Mode = req.Mode
	}
	plan, err := planner.Plan(analysis, req.Lyrics, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("planning job %s: %w", jobID, err)
	}
	s.log.Infof("job %s: planned %d segments over %.2fs (%s)", jobID, len(plan.Segments), plan.TotalDuration, plan.Mode)

	cost := s.config.CreditsPerClip * int64(len(plan.Segments))
	res, err := s.ledger.Reserve(ctx, jobID, cost)
	if err != nil {
		return nil, fmt.Errorf("reserving credits for job %s: %w", jobID, err)
	}
	if res.Released {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrReservationReleased)
	}

	result := &JobResult{JobID: jobID, Plan: plan, Reused: res.Committed}
	if result.Reused {
		s.log.Infof("job %s was already paid for, re-running without a charge", jobID)
	}

	if err := s.run(ctx, req, result, report); err != nil {
		if !result.Reused {
			s.release(ctx, jobID)
		}
		return nil, err
	}

	if !result.Reused {
		res, err = s.ledger.Commit(ctx, jobID)
		if err != nil {
			s.release(ctx, jobID)
			return nil, fmt.Errorf("committing credits for job %s: %w", jobID, err)
		}
	}
	result.Reservation = res
	report(StageDone, 1)
	s.log.Infof("job %s done, score %.4f", jobID, result.Score.Total)
	return result, nil
}

func (s *Studio) run(ctx context.Context, req JobRequest, result *JobResult, report func(Stage, float64)) error {
	jobID, plan := result.JobID, result.Plan

	report(StageGenerate, 0.1)
	clips, err := s.provider.Generate(ctx, plan, req.Aspect)
	if err != nil {
		return fmt.Errorf("generating clips for job %s: %w", jobID, err)
	}
	result.Clips = clips

	report(StageAssemble, 0.6)
	tl, err := s.assembler.Assemble(plan, clips)
	if err != nil {
		return fmt.Errorf("assembling job %s: %w", jobID, err)
	}
	result.Timeline = tl

	report(StageSelfEdit, 0.7)
	audioCtx := req.Analysis
	audioCtx.Mode = plan.Mode
	score, err := s.Evaluate(tl, models.EvaluationContext{Audio: audioCtx, Lyrics: req.Lyrics}, plan.Mode)
	if err != nil {
		return fmt.Errorf("evaluating job %s: %w", jobID, err)
	}
	result.Score = score

	if req.OutputPath == "" {
		return nil
	}
	report(StageExport, 0.8)
	if err := s.Export(ctx, tl, req.AudioPath, req.OutputPath); err != nil {
		return fmt.Errorf("exporting job %s: %w", jobID, err)
	}
	result.OutputPath = req.OutputPath
	return nil
}

// release frees the job's credits even when ctx was cancelled, which is the
// usual reason a job failed.
func (s *Studio) release(ctx context.Context, jobID string) {
	_, err := s.ledger.Release(context.WithoutCancel(ctx), jobID)
	if err != nil && !errors.Is(err, models.ErrAlreadyCommitted) {
		s.log.Errorf("releasing credits for job %s: %v", jobID, err)
	}
}

func (s *Studio) Ledger() *ledger.Ledger { return s.ledger }

// Close closes the ledger when the Studio opened it.
func (s *Studio) Close() error {
	if s.ownsLedger {
		return s.ledger.Close()
	}
	return nil
}
