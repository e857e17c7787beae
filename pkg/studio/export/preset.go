package export

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preset holds the encoder settings for an export.
type Preset struct {
	Name         string
	VideoCodec   string
	PixelFormat  string
	AudioCodec   string
	AudioBitrate string
	FrameRate    string
	ExtraArgs    []string
}

// DefaultPreset matches the reference encoder settings.
func DefaultPreset() Preset {
	return Preset{
		Name:        "default",
		VideoCodec:  "libx264",
		PixelFormat: "yuv420p",
		AudioCodec:  "aac",
	}
}

func (p Preset) withDefaults() Preset {
	d := DefaultPreset()
	if p.VideoCodec == "" {
		p.VideoCodec = d.VideoCodec
	}
	if p.PixelFormat == "" {
		p.PixelFormat = d.PixelFormat
	}
	if p.AudioCodec == "" {
		p.AudioCodec = d.AudioCodec
	}
	return p
}

// videoArgs are the encode flags for the concat pass.
func (p Preset) videoArgs() []string {
	args := []string{"-c:v", p.VideoCodec, "-pix_fmt", p.PixelFormat}
	if p.FrameRate != "" {
		args = append(args, "-r", p.FrameRate)
	}
	return append(args, p.ExtraArgs...)
}

// audioArgs are the encode flags for the mux pass.
func (p Preset) audioArgs() []string {
	args := []string{"-c:a", p.AudioCodec}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	return args
}

// LoadPresetFile reads named presets from a YAML file:
//
//	presets:
//	  web:
//	    video_codec: libx264
//	    audio_bitrate: 192k
func LoadPresetFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load preset file: %w", err)
	}
	type rawPreset struct {
		VideoCodec   string   `yaml:"video_codec"`
		PixelFormat  string   `yaml:"pixel_format"`
		AudioCodec   string   `yaml:"audio_codec"`
		AudioBitrate string   `yaml:"audio_bitrate"`
		FrameRate    string   `yaml:"frame_rate"`
		ExtraArgs    []string `yaml:"extra_args"`
	}
	var payload struct {
		Presets map[string]rawPreset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}

	presets := make(map[string]Preset, len(payload.Presets))
	for name, rp := range payload.Presets {
		presets[name] = Preset{
			Name:         name,
			VideoCodec:   rp.VideoCodec,
			PixelFormat:  rp.PixelFormat,
			AudioCodec:   rp.AudioCodec,
			AudioBitrate: rp.AudioBitrate,
			FrameRate:    rp.FrameRate,
			ExtraArgs:    append([]string(nil), rp.ExtraArgs...),
		}.withDefaults()
	}
	return presets, nil
}
