package export

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tunivo/studio/pkg/models"
)

// stubExecutor records invocations and captures the concat manifest before
// the exporter removes its work directory.
type stubExecutor struct {
	calls    [][]string
	manifest string
	fail     map[int]error
}

func (s *stubExecutor) Run(_ context.Context, args []string) error {
	s.calls = append(s.calls, append([]string(nil), args...))
	for i, a := range args {
		if a == "concat" && i+4 < len(args) {
			data, err := os.ReadFile(args[i+4])
			if err != nil {
				return err
			}
			s.manifest = string(data)
		}
	}
	return s.fail[len(s.calls)]
}

func sampleTimeline(dir string) models.Timeline {
	return models.Timeline{
		Target: 7,
		Items: []models.TimelineItem{
			{
				Segment: models.TimelineSegment{Index: 0, Start: 0, End: 3, Duration: 3},
				Clip:    models.GeneratedClip{SegmentIndex: 0, Path: filepath.Join(dir, "clip-000.mp4"), Duration: 3},
				Used:    3,
			},
			{
				Segment: models.TimelineSegment{Index: 1, Start: 3, End: 7, Duration: 4},
				Clip:    models.GeneratedClip{SegmentIndex: 1, Path: filepath.Join(dir, "it's-001.mp4"), Duration: 5.5},
				Start:   3,
				Used:    4,
			},
		},
	}
}

func TestRenderRunsConcatThenMux(t *testing.T) {
	dir := t.TempDir()
	stub := &stubExecutor{}
	exp := New(WithExecutor(stub), WithTempDir(dir))

	out := filepath.Join(dir, "out", "final.mp4")
	if err := exp.Render(context.Background(), sampleTimeline(dir), "song.wav", out); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("got %d encoder runs, want 2", len(stub.calls))
	}

	concat := strings.Join(stub.calls[0], " ")
	for _, want := range []string{"-f concat -safe 0 -i", "-c:v libx264", "-pix_fmt yuv420p", "-an"} {
		if !strings.Contains(concat, want) {
			t.Errorf("concat args %q missing %q", concat, want)
		}
	}

	mux := stub.calls[1]
	joined := strings.Join(mux, " ")
	for _, want := range []string{"-i song.wav", "-map 0:v:0 -map 1:a:0", "-c:v copy", "-c:a aac", "-shortest"} {
		if !strings.Contains(joined, want) {
			t.Errorf("mux args %q missing %q", joined, want)
		}
	}
	if mux[len(mux)-1] != out {
		t.Errorf("mux output = %q, want %q", mux[len(mux)-1], out)
	}
	if _, err := os.Stat(filepath.Dir(out)); err != nil {
		t.Errorf("output directory not created: %v", err)
	}

	if !strings.Contains(stub.manifest, "clip-000.mp4'\n") {
		t.Errorf("manifest misses first clip:\n%s", stub.manifest)
	}
	if !strings.Contains(stub.manifest, `it'\''s-001.mp4'`) {
		t.Errorf("manifest does not escape quotes:\n%s", stub.manifest)
	}
	if strings.Count(stub.manifest, "outpoint") != 1 || !strings.Contains(stub.manifest, "outpoint 4.000") {
		t.Errorf("manifest should trim only the second clip:\n%s", stub.manifest)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "tunivo-export-*"))
	if len(leftovers) != 0 {
		t.Errorf("work directories left behind: %v", leftovers)
	}
}

func TestRenderReportsStage(t *testing.T) {
	tests := []struct {
		name      string
		failOn    int
		wantStage string
	}{
		{"concat", 1, StageConcat},
		{"mux", 2, StageMux},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			stub := &stubExecutor{fail: map[int]error{
				tt.failOn: &RunError{Err: errors.New("exit status 1"), Stderr: "Invalid data found"},
			}}
			err := New(WithExecutor(stub), WithTempDir(dir)).
				Render(context.Background(), sampleTimeline(dir), "song.wav", filepath.Join(dir, "out.mp4"))

			if !errors.Is(err, models.ErrExportFailed) {
				t.Fatalf("got %v, want ErrExportFailed", err)
			}
			var exportErr *ExportError
			if !errors.As(err, &exportErr) {
				t.Fatalf("expected *ExportError, got %T", err)
			}
			if exportErr.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", exportErr.Stage, tt.wantStage)
			}
			if exportErr.Diagnostic != "Invalid data found" {
				t.Errorf("diagnostic = %q", exportErr.Diagnostic)
			}
			if len(stub.calls) != tt.failOn {
				t.Errorf("encoder ran %d times, want %d", len(stub.calls), tt.failOn)
			}
		})
	}
}

func TestRenderEmptyTimeline(t *testing.T) {
	stub := &stubExecutor{}
	err := New(WithExecutor(stub)).Render(context.Background(), models.Timeline{}, "a.wav", "out.mp4")

	var exportErr *ExportError
	if !errors.As(err, &exportErr) || exportErr.Stage != StageManifest {
		t.Fatalf("got %v, want a manifest-stage ExportError", err)
	}
	if len(stub.calls) != 0 {
		t.Error("encoder should not run for an empty timeline")
	}
}

func TestRenderUsesPreset(t *testing.T) {
	dir := t.TempDir()
	stub := &stubExecutor{}
	preset := Preset{VideoCodec: "libx265", AudioBitrate: "192k", FrameRate: "30"}
	if err := New(WithExecutor(stub), WithPreset(preset), WithTempDir(dir)).
		Render(context.Background(), sampleTimeline(dir), "a.wav", filepath.Join(dir, "o.mp4")); err != nil {
		t.Fatalf("Render: %v", err)
	}
	concat := strings.Join(stub.calls[0], " ")
	if !strings.Contains(concat, "-c:v libx265 -pix_fmt yuv420p -r 30") {
		t.Errorf("concat args = %q", concat)
	}
	if mux := strings.Join(stub.calls[1], " "); !strings.Contains(mux, "-c:a aac -b:a 192k") {
		t.Errorf("mux args = %q", mux)
	}
}

func TestLoadPresetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	contents := []byte(`presets:
  web:
    video_codec: libx264
    audio_bitrate: 192k
    extra_args:
      - -movflags
      - +faststart
  vertical:
    frame_rate: "24"
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write presets: %v", err)
	}
	presets, err := LoadPresetFile(path)
	if err != nil {
		t.Fatalf("LoadPresetFile: %v", err)
	}
	web, ok := presets["web"]
	if !ok {
		t.Fatal("expected web preset")
	}
	if web.Name != "web" || web.AudioBitrate != "192k" || len(web.ExtraArgs) != 2 {
		t.Errorf("unexpected web preset %+v", web)
	}
	vertical := presets["vertical"]
	if vertical.VideoCodec != "libx264" || vertical.PixelFormat != "yuv420p" || vertical.FrameRate != "24" {
		t.Errorf("defaults not applied: %+v", vertical)
	}

	if _, err := LoadPresetFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLocalExecutor(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	ctx := context.Background()
	if err := (LocalExecutor{}).Run(ctx, []string{"-hide_banner", "-version"}); err != nil {
		t.Fatalf("ffmpeg -version: %v", err)
	}

	err := (LocalExecutor{}).Run(ctx, []string{"-hide_banner", "-i", filepath.Join(t.TempDir(), "missing.mp4")})
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if runErr.Stderr == "" {
		t.Error("expected ffmpeg diagnostic on stderr")
	}
}
