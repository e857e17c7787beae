package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tunivo/studio/pkg/models"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		args       []string
		positional []string
		flags      []string
	}{
		{[]string{"song.json", "-prompt", "x"}, []string{"song.json"}, []string{"-prompt", "x"}},
		{[]string{"-prompt", "x", "song.json"}, nil, []string{"-prompt", "x", "song.json"}},
		{[]string{"reserve", "job-1", "10"}, []string{"reserve", "job-1", "10"}, nil},
		{nil, nil, nil},
	}
	for _, tt := range tests {
		pos, flags := splitArgs(tt.args)
		if !reflect.DeepEqual(pos, tt.positional) || !reflect.DeepEqual(flags, tt.flags) {
			t.Errorf("splitArgs(%v) = %v, %v; want %v, %v", tt.args, pos, flags, tt.positional, tt.flags)
		}
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	analysis := writeFile(t, dir, "a.json", `{"duration":24,"bpm":118,"mode":"high"}`)
	lyrics := writeFile(t, dir, "l.json", `{"keywords":["fire","ocean"]}`)

	in, err := readInputs(analysis, lyrics, "cinematic skyline", "")
	if err != nil {
		t.Fatalf("readInputs failed: %v", err)
	}
	if in.mode != models.ModeHigh || in.analysis.Duration != 24 || in.analysis.BPM != 118 {
		t.Errorf("inputs = %+v", in)
	}
	if !reflect.DeepEqual(in.lyrics.Keywords, []string{"fire", "ocean"}) || in.prompt != "cinematic skyline" {
		t.Errorf("lyrics/prompt = %+v / %q", in.lyrics, in.prompt)
	}

	in, err = readInputs(analysis, "", "", "fast")
	if err != nil || in.mode != models.ModeFast {
		t.Errorf("mode override = %q, %v", in.mode, err)
	}
}

func TestReadInputsErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"duration":0}`)
	good := writeFile(t, dir, "good.json", `{"duration":10}`)

	if _, err := readInputs(bad, "", "", ""); !errors.Is(err, models.ErrInvalidAnalysis) {
		t.Errorf("zero duration: err = %v", err)
	}
	if _, err := readInputs(filepath.Join(dir, "absent.json"), "", "", ""); err == nil {
		t.Error("missing analysis: want error")
	}
	if _, err := readInputs(good, "", "", "turbo"); err == nil {
		t.Error("bad mode: want error")
	}
	if _, err := readInputs(good, writeFile(t, dir, "l.json", "{"), "", ""); err == nil {
		t.Error("broken lyrics: want error")
	}
}
