package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"

	"shorts-engine/config"
	"shorts-engine/ffprobe"
	"shorts-engine/stagetrack"
	"shorts-engine/types"
)

// Sidecar is the metadata written next to each synthesized clip: the
// measured duration, the fingerprint of the inputs that produced it, and the
// provider's character alignment for caption timing.
type Sidecar struct {
	DurationSec float64    `json:"duration_sec"`
	Fingerprint string     `json:"fingerprint"`
	Alignment   *Alignment `json:"alignment,omitempty"`
}

// Stage turns one shot's narration into a timed clip on disk. Duration is
// not predictable before synthesis; the measured value from the produced
// file is ground truth and is what flows downstream.
type Stage struct {
	cfg    *config.Config
	client *Client

	// probe measures a clip's duration; replaced in tests.
	probe func(path string) (float64, error)
}

func NewStage(cfg *config.Config, client *Client) *Stage {
	return &Stage{cfg: cfg, client: client, probe: ffprobe.Duration}
}

// ClipPath returns the deterministic output path for one shot's audio.
func (s *Stage) ClipPath(project, version string, shot int) string {
	return filepath.Join(s.cfg.AudioDir(project), fmt.Sprintf("%s_shot_%03d.mp3", version, shot))
}

// SidecarPath returns the metadata sidecar path for one shot's audio.
func (s *Stage) SidecarPath(project, version string, shot int) string {
	return strings.TrimSuffix(s.ClipPath(project, version, shot), ".mp3") + ".json"
}

// Synthesize produces the audio clip and sidecar for one shot. prev and next
// are the neighboring narrations, passed through for prosody continuity.
func (s *Stage) Synthesize(ctx context.Context, project, version string, shot types.Shot, prev, next string) (types.TimedClip, error) {
	if strings.TrimSpace(shot.Narration) == "" {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: fmt.Errorf("empty narration text")}
	}

	res, err := s.client.Convert(ctx, shot.Voice, shot.Narration, prev, next)
	if err != nil {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: err}
	}

	clipPath := s.ClipPath(project, version, shot.Index)
	if err := renameio.WriteFile(clipPath, res.Audio, 0o644); err != nil {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: fmt.Errorf("write clip: %w", err)}
	}

	dur, err := s.probe(clipPath)
	if err != nil {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: fmt.Errorf("measure duration: %w", err)}
	}

	sidecar := Sidecar{
		DurationSec: dur,
		Fingerprint: stagetrack.AudioFingerprint(shot),
		Alignment:   res.Alignment,
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: err}
	}
	if err := renameio.WriteFile(s.SidecarPath(project, version, shot.Index), data, 0o644); err != nil {
		return types.TimedClip{}, &SynthesisError{Shot: shot.Index, Cause: fmt.Errorf("write sidecar: %w", err)}
	}

	log.Info().Str("project", project).Str("version", version).
		Int("shot", shot.Index).Float64("duration_sec", dur).
		Msg("audio synthesized")
	return types.TimedClip{Path: clipPath, Duration: dur}, nil
}

// LoadSidecar reads a previously written audio sidecar.
func (s *Stage) LoadSidecar(project, version string, shot int) (*Sidecar, error) {
	data, err := os.ReadFile(s.SidecarPath(project, version, shot))
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse audio sidecar: %w", err)
	}
	return &sc, nil
}
