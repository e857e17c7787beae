// Package export renders an assembled timeline and its audio track to a
// single video file with ffmpeg.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/utils"
)

// Export stages, reported in ExportError.Stage.
const (
	StageManifest = "manifest"
	StageConcat   = "concat"
	StageMux      = "mux"
)

// ExportError is a failed export with the encoder's diagnostic.
type ExportError struct {
	Stage      string
	Diagnostic string
	Err        error
}

func (e *ExportError) Error() string {
	msg := fmt.Sprintf("export failed at %s", e.Stage)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *ExportError) Is(target error) bool { return target == models.ErrExportFailed }

func (e *ExportError) Unwrap() error { return e.Err }

type Option func(*Exporter)

func WithExecutor(exec Executor) Option {
	return func(e *Exporter) {
		if exec != nil {
			e.exec = exec
		}
	}
}

func WithPreset(p Preset) Option {
	return func(e *Exporter) {
		e.preset = p.withDefaults()
	}
}

// WithTempDir sets where per-export work directories are created.
func WithTempDir(dir string) Option {
	return func(e *Exporter) {
		e.tempDir = dir
	}
}

func WithLogger(log logger.Interface) Option {
	return func(e *Exporter) {
		if log != nil {
			e.log = log
		}
	}
}

type Exporter struct {
	exec    Executor
	preset  Preset
	tempDir string
	log     logger.Interface
}

func New(opts ...Option) *Exporter {
	e := &Exporter{
		exec:   LocalExecutor{},
		preset: DefaultPreset(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render concatenates the timeline clips, then muxes in the audio track and
// stops at the shorter stream.
func (e *Exporter) Render(ctx context.Context, tl models.Timeline, audioPath, outputPath string) error {
	if len(tl.Items) == 0 {
		return &ExportError{Stage: StageManifest, Diagnostic: "timeline has no items"}
	}
	if err := utils.MakeParentDir(outputPath); err != nil {
		return &ExportError{Stage: StageManifest, Diagnostic: err.Error(), Err: err}
	}

	workdir, err := os.MkdirTemp(e.tempDir, "tunivo-export-")
	if err != nil {
		return &ExportError{Stage: StageManifest, Diagnostic: err.Error(), Err: err}
	}
	defer os.RemoveAll(workdir)

	manifest := filepath.Join(workdir, "clips.txt")
	if err := writeManifest(manifest, tl); err != nil {
		return &ExportError{Stage: StageManifest, Diagnostic: err.Error(), Err: err}
	}

	video := filepath.Join(workdir, "video.mp4")
	concat := []string{"-y", "-f", "concat", "-safe", "0", "-i", manifest}
	concat = append(concat, e.preset.videoArgs()...)
	concat = append(concat, "-an", video)
	e.log.Debugf("concatenating %d clips", len(tl.Items))
	if err := e.exec.Run(ctx, concat); err != nil {
		return stageError(StageConcat, err)
	}

	mux := []string{"-y", "-i", video, "-i", audioPath, "-map", "0:v:0", "-map", "1:a:0", "-c:v", "copy"}
	mux = append(mux, e.preset.audioArgs()...)
	mux = append(mux, "-shortest", outputPath)
	if err := e.exec.Run(ctx, mux); err != nil {
		return stageError(StageMux, err)
	}

	e.log.Infof("exported %.2fs timeline to %s", tl.Duration(), outputPath)
	return nil
}

func stageError(stage string, err error) error {
	diag := err.Error()
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Stderr != "" {
		diag = runErr.Stderr
	}
	return &ExportError{Stage: stage, Diagnostic: diag, Err: err}
}

// writeManifest writes an ffmpeg concat list. Trimmed clips get an outpoint
// so only the used part is played.
func writeManifest(path string, tl models.Timeline) error {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, it := range tl.Items {
		if it.Clip.Path == "" {
			return fmt.Errorf("segment %d has no clip file", it.Segment.Index)
		}
		abs, err := filepath.Abs(it.Clip.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
		if it.Trimmed() {
			fmt.Fprintf(&b, "outpoint %s\n", strconv.FormatFloat(it.Used, 'f', 3, 64))
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
