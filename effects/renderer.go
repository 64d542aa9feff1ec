package effects

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"shorts-engine/config"
	"shorts-engine/ffprobe"
	"shorts-engine/synth"
	"shorts-engine/types"
)

// RenderError is an asset or parameter defect for one shot. Never retried;
// the offending shot index is carried for the run report.
type RenderError struct {
	Shot  int
	Cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed for shot %d: %v", e.Shot, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Stage renders one shot's visual: Ken Burns on stills, trim-or-freeze on
// video assets, caption overlay, and the shot's audio muxed in. The output
// clip's duration always equals the audio duration; the audio length is
// ground truth and the visual is fitted to it, never the other way around.
type Stage struct {
	cfg *config.Config

	probe func(path string) (float64, error)
}

func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg, probe: ffprobe.Duration}
}

// ClipPath returns the deterministic output path for one shot's rendered clip.
func (s *Stage) ClipPath(project, version string, shot int) string {
	return filepath.Join(s.cfg.OutputDir(project), fmt.Sprintf("%s_%s_shot_%03d.mp4", project, version, shot))
}

// Render produces the timed visual clip for one shot. assetPath is the
// resolved visual source; audio is the shot's synthesized clip whose
// measured duration sets the target; alignment may be nil.
func (s *Stage) Render(ctx context.Context, project, version string, shot types.Shot, assetPath string, audio types.TimedClip, alignment *synth.Alignment) (types.TimedClip, error) {
	if assetPath == "" {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("no resolved visual asset")}
	}
	if _, err := os.Stat(assetPath); err != nil {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("asset %s: %w", assetPath, err)}
	}
	if audio.Duration <= 0 {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("no audio duration for shot")}
	}
	if shot.KenBurns.Start.W <= 0 || shot.KenBurns.End.W <= 0 {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("invalid crop rectangle")}
	}

	outPath := s.ClipPath(project, version, shot.Index)
	w, h, fps := s.cfg.Video.Width, s.cfg.Video.Height, s.cfg.Video.FPS
	totalFrames := int(audio.Duration * float64(fps))
	isVideo := assetIsVideo(shot, assetPath)

	// Supersample before zoompan; panning at output resolution jitters.
	chain := []string{fitFilter(w*2, h*2)}
	if isVideo {
		// Freeze the last frame past the source's natural end so a short
		// clip still covers the full shot, then trim to the target below.
		chain = append(chain, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", audio.Duration))
		chain = append(chain, zoompanFilter(shot.KenBurns, totalFrames, 1, w, h, fps))
	} else {
		chain = append(chain, zoompanFilter(shot.KenBurns, totalFrames, totalFrames, w, h, fps))
	}

	captionOverlay, captionFilter, err := s.captionLayer(project, version, shot, alignment)
	if err != nil {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: err}
	}
	if captionFilter != "" {
		chain = append(chain, captionFilter)
	}

	args := []string{"-y"}
	if !isVideo {
		args = append(args, "-loop", "1")
	}
	args = append(args, "-i", assetPath, "-i", audio.Path)
	if captionOverlay != "" {
		args = append(args, "-i", captionOverlay)
		args = append(args,
			"-filter_complex", fmt.Sprintf("[0:v]%s[base];[base][2:v]overlay=0:0[outv]", strings.Join(chain, ",")),
			"-map", "[outv]")
	} else {
		args = append(args, "-vf", strings.Join(chain, ","), "-map", "0:v:0")
	}
	args = append(args,
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", fmt.Sprintf("%d", s.cfg.Video.CRF),
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", fps),
		"-c:a", "aac",
		"-t", fmt.Sprintf("%.3f", audio.Duration),
		outPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("ffmpeg: %w", err)}
	}

	// The clip must cover the audio exactly; anything past half a frame of
	// drift would shift every later shot at mux time.
	got, err := s.probe(outPath)
	if err != nil {
		return types.TimedClip{}, &RenderError{Shot: shot.Index, Cause: fmt.Errorf("measure output: %w", err)}
	}
	if math.Abs(got-audio.Duration) > 0.5/float64(fps)+0.05 {
		return types.TimedClip{}, &RenderError{Shot: shot.Index,
			Cause: fmt.Errorf("rendered duration %.3fs does not match audio %.3fs", got, audio.Duration)}
	}

	log.Info().Str("project", project).Str("version", version).
		Int("shot", shot.Index).Float64("duration_sec", audio.Duration).
		Bool("video_asset", isVideo).Msg("shot rendered")
	return types.TimedClip{Path: outPath, Duration: audio.Duration}, nil
}

// captionLayer decides how the caption is drawn: karaoke ASS when alignment
// timing exists, otherwise a full-shot caption card. Returns an extra
// overlay input path and/or a filter fragment.
func (s *Stage) captionLayer(project, version string, shot types.Shot, alignment *synth.Alignment) (overlayPath, filter string, err error) {
	text := shot.CaptionText()
	if text == "" {
		return "", "", nil
	}
	w, h := s.cfg.Video.Width, s.cfg.Video.Height

	if alignment != nil && len(alignment.Characters) > 0 {
		assPath := filepath.Join(s.cfg.OutputDir(project), fmt.Sprintf("%s_%s_shot_%03d.ass", project, version, shot.Index))
		if err := WriteASS(assPath, alignment, s.cfg.Captions, w, h); err != nil {
			return "", "", err
		}
		return "", fmt.Sprintf("ass=%s", escapeFilterPath(assPath)), nil
	}

	fontPath := filepath.Join(s.cfg.Paths.AssetsRoot, s.cfg.Captions.Font)
	if s.cfg.Captions.Font != "" {
		if _, statErr := os.Stat(fontPath); statErr == nil {
			cardPath := filepath.Join(s.cfg.OutputDir(project), fmt.Sprintf("%s_%s_shot_%03d_caption.png", project, version, shot.Index))
			if err := RenderCaptionCard(cardPath, text, fontPath, s.cfg.Captions, w, h); err != nil {
				return "", "", err
			}
			return cardPath, "", nil
		}
	}

	// No font on disk: fall back to ffmpeg's own text rendering.
	draw := fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=%d:box=1:boxcolor=black@%.2f:boxborderw=12:x=(w-text_w)/2:y=h-%d-text_h",
		escapeDrawText(text), s.cfg.Captions.FontSize, s.cfg.Captions.BoxOpacity, s.cfg.Captions.MarginBottom)
	return "", draw, nil
}

func assetIsVideo(shot types.Shot, path string) bool {
	switch shot.AssetKind {
	case "video":
		return true
	case "image":
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
		return true
	}
	return false
}

func escapeDrawText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	s = strings.ReplaceAll(s, ":", `\:`)
	return s
}

func escapeFilterPath(s string) string {
	return strings.ReplaceAll(s, ":", `\:`)
}
