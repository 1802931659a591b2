package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/effects"
	"github.com/banshee-data/motiontrail/internal/motion/morph"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if got, want := cfg.ToSettings(), pipeline.DefaultSettings(); got != want {
		t.Errorf("ToSettings() = %+v, want %+v", got, want)
	}
	if cfg.GetFrameInterval() != 33*time.Millisecond {
		t.Errorf("GetFrameInterval() = %s, want 33ms", cfg.GetFrameInterval())
	}
	if cfg.GetStatsEvery() != 30 {
		t.Errorf("GetStatsEvery() = %d, want 30", cfg.GetStatsEvery())
	}
}

func TestEmptyConfigMatchesDefaults(t *testing.T) {
	empty := EmptyTuningConfig()
	if got, want := empty.ToSettings(), DefaultTuningConfig().ToSettings(); got != want {
		t.Errorf("empty config settings %+v differ from defaults %+v", got, want)
	}
	if empty.GetSnapshotInterval() != time.Minute {
		t.Errorf("GetSnapshotInterval() = %s, want 1m", empty.GetSnapshotInterval())
	}
	if empty.GetMaxPixels() != pipeline.DefaultMaxPixels {
		t.Errorf("GetMaxPixels() = %d", empty.GetMaxPixels())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "detection_mode": "color",
  "threshold": 3,
  "decision": "hard",
  "morphology": "close",
  "effect_style": "heatmap",
  "invert": true,
  "persistence": 0.9,
  "resolution_scale": 0.25,
  "frame_interval": "20ms",
  "stats_every": 5
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}
	s := cfg.ToSettings()
	if s.Mode != background.ModeColor || s.Decision != background.DecisionHard {
		t.Errorf("mode/decision = %s/%s", s.Mode, s.Decision)
	}
	if s.Morphology != morph.Close || s.Style != effects.Heatmap || !s.Invert {
		t.Errorf("morphology/style/invert = %s/%s/%v", s.Morphology, s.Style, s.Invert)
	}
	if s.Threshold != 3 || s.Persistence != 0.9 || s.ResolutionScale != 0.25 {
		t.Errorf("numeric fields = %v/%v/%v", s.Threshold, s.Persistence, s.ResolutionScale)
	}
	if s.AdaptationRate != 0.05 {
		t.Errorf("omitted adaptation_rate = %v, want default 0.05", s.AdaptationRate)
	}
	if cfg.GetFrameInterval() != 20*time.Millisecond || cfg.GetStatsEvery() != 5 {
		t.Errorf("runner fields = %s/%d", cfg.GetFrameInterval(), cfg.GetStatsEvery())
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	yaml := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(yaml, []byte("{}"), 0644)
	if _, err := LoadTuningConfig(yaml); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}

	bad := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0644)
	if _, err := LoadTuningConfig(bad); err == nil {
		t.Error("expected parse error")
	}

	big := filepath.Join(tmpDir, "big.json")
	os.WriteFile(big, []byte(`{"threshold": 2`+strings.Repeat(" ", 1024*1024)+`}`), 0644)
	if _, err := LoadTuningConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"valid", `{"effect_style": "chromatic"}`, ""},
		{"out of range values are clamped later", `{"threshold": 99, "persistence": 5}`, ""},
		{"bad mode", `{"detection_mode": "hsv"}`, "detection mode"},
		{"bad decision", `{"decision": "fuzzy"}`, "decision"},
		{"bad morphology", `{"morphology": "gradient"}`, "morphology"},
		{"bad style", `{"effect_style": "sepia"}`, "effect style"},
		{"bad interval", `{"frame_interval": "soon"}`, "frame_interval"},
		{"negative interval", `{"snapshot_interval": "-1s"}`, "snapshot_interval"},
		{"negative stats", `{"stats_every": -1}`, "stats_every"},
		{"zero max pixels", `{"max_pixels": 0}`, "max_pixels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTuningConfig([]byte(tt.json))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestToSettingsClamps(t *testing.T) {
	cfg, err := ParseTuningConfig([]byte(`{"threshold": 99, "persistence": 5, "resolution_scale": 0}`))
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.ToSettings()
	if s.Threshold != pipeline.MaxThreshold {
		t.Errorf("threshold = %v, want %v", s.Threshold, pipeline.MaxThreshold)
	}
	if s.Persistence != effects.MaxPersistence {
		t.Errorf("persistence = %v, want %v", s.Persistence, effects.MaxPersistence)
	}
	if s.ResolutionScale != 0.5 {
		t.Errorf("resolution_scale = %v, want fallback 0.5", s.ResolutionScale)
	}
}

func TestMergeAndFromSettings(t *testing.T) {
	base := DefaultTuningConfig()
	patch, err := ParseTuningConfig([]byte(`{"effect_style": "electricTrails", "threshold": 4}`))
	if err != nil {
		t.Fatal(err)
	}
	base.Merge(patch)
	*patch.Threshold = 8 // merged values are copies
	s := base.ToSettings()
	if s.Style != effects.ElectricTrails || s.Threshold != 4 {
		t.Errorf("merged settings = %s/%v", s.Style, s.Threshold)
	}
	if s.Morphology != morph.Open {
		t.Errorf("unpatched field changed: %s", s.Morphology)
	}

	round := FromSettings(s).ToSettings()
	if round != s {
		t.Errorf("FromSettings round trip = %+v, want %+v", round, s)
	}
}

func TestStartupFields(t *testing.T) {
	live, err := ParseTuningConfig([]byte(`{"threshold": 3, "invert": true}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := live.StartupFields(); len(got) != 0 {
		t.Errorf("StartupFields() = %v, want none", got)
	}

	startup, err := ParseTuningConfig([]byte(`{"frame_interval": "10ms", "stats_every": 5, "max_pixels": 100, "snapshot_interval": "1s"}`))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"frame_interval", "snapshot_interval", "stats_every", "max_pixels"}
	if diff := cmp.Diff(want, startup.StartupFields()); diff != "" {
		t.Errorf("StartupFields() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if got, want := cfg.ToSettings(), DefaultTuningConfig().ToSettings(); got != want {
		t.Errorf("defaults file %+v differs from DefaultTuningConfig %+v", got, want)
	}
	if cfg.GetMaxPixels() != pipeline.DefaultMaxPixels {
		t.Errorf("max_pixels = %d", cfg.GetMaxPixels())
	}
}
