package assemble

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
	"shorts-engine/types"
)

// AssemblyError is a cross-shot consistency or export failure. It is fatal
// for the run and never partially applied: a failed assembly leaves any
// previously successful final output untouched.
type AssemblyError struct {
	Project string
	Version string
	Cause   error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed for %s/%s: %v", e.Project, e.Version, e.Cause)
}

func (e *AssemblyError) Unwrap() error { return e.Cause }

// ShotClips pairs one shot's audio and visual TimedClips. The visual clip
// carries the muxed audio track; the audio clip is kept alongside so the
// assembler can verify the duration-matching invariant before touching
// ffmpeg.
type ShotClips struct {
	Shot   int
	Audio  types.TimedClip
	Visual types.TimedClip
}

// Assembler joins rendered shots strictly by index into the final video.
type Assembler struct {
	cfg *config.Config

	probe func(path string) (float64, error)
}

func NewAssembler(cfg *config.Config) *Assembler {
	return &Assembler{cfg: cfg, probe: ffprobe.Duration}
}

// FinalPath returns the deterministic path of the assembled video.
func (a *Assembler) FinalPath(project, version string) string {
	return filepath.Join(a.cfg.OutputDir(project), fmt.Sprintf("%s_%s_final.mp4", project, version))
}

// Assemble concatenates the shots in order, hard cut by default or with the
// configured crossfade, and atomically replaces the final output on success.
func (a *Assembler) Assemble(ctx context.Context, project, version string, shots []ShotClips) (types.TimedClip, error) {
	if len(shots) == 0 {
		return types.TimedClip{}, &AssemblyError{Project: project, Version: version, Cause: fmt.Errorf("empty shot list")}
	}

	durations := make([]float64, len(shots))
	tol := 0.5/float64(a.cfg.Video.FPS) + 0.05
	for i, sc := range shots {
		if sc.Shot != i {
			return types.TimedClip{}, &AssemblyError{Project: project, Version: version,
				Cause: fmt.Errorf("shots out of order: got %d at position %d", sc.Shot, i)}
		}
		if math.Abs(sc.Audio.Duration-sc.Visual.Duration) > tol {
			return types.TimedClip{}, &AssemblyError{Project: project, Version: version,
				Cause: fmt.Errorf("shot %d duration mismatch: audio %.3fs, visual %.3fs", sc.Shot, sc.Audio.Duration, sc.Visual.Duration)}
		}
		durations[i] = sc.Visual.Duration
	}

	crossfade := 0.0
	if a.cfg.Transitions.Kind == "crossfade" && len(shots) > 1 {
		crossfade = a.cfg.Transitions.CrossfadeSec
	}
	_, expectedTotal := Timeline(durations, crossfade)

	finalPath := a.FinalPath(project, version)
	// Export into a scratch file; the real final is only ever replaced by a
	// rename of a fully written file.
	tmpPath := filepath.Join(filepath.Dir(finalPath), fmt.Sprintf(".%s_%s_assembling.mp4", project, version))
	defer func() { _ = os.Remove(tmpPath) }()

	var err error
	if crossfade > 0 {
		err = a.runCrossfade(ctx, shots, durations, crossfade, tmpPath)
	} else {
		err = a.runConcat(ctx, shots, tmpPath)
	}
	if err != nil {
		return types.TimedClip{}, &AssemblyError{Project: project, Version: version, Cause: err}
	}

	got, err := a.probe(tmpPath)
	if err != nil {
		return types.TimedClip{}, &AssemblyError{Project: project, Version: version, Cause: fmt.Errorf("measure output: %w", err)}
	}
	if math.Abs(got-expectedTotal) > tol*float64(len(shots)) {
		return types.TimedClip{}, &AssemblyError{Project: project, Version: version,
			Cause: fmt.Errorf("assembled duration %.3fs, expected %.3fs", got, expectedTotal)}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return types.TimedClip{}, &AssemblyError{Project: project, Version: version, Cause: fmt.Errorf("commit final: %w", err)}
	}

	log.Info().Str("project", project).Str("version", version).
		Int("shots", len(shots)).Float64("total_sec", got).
		Float64("crossfade_sec", crossfade).Str("output", finalPath).
		Msg("final video assembled")
	return types.TimedClip{Path: finalPath, Duration: got}, nil
}

// runConcat joins clips with the concat demuxer; all shots share one codec
// configuration so the streams copy straight through.
func (a *Assembler) runConcat(ctx context.Context, shots []ShotClips, outPath string) error {
	listPath := outPath + ".txt"
	var lines []string
	for _, sc := range shots {
		abs, err := filepath.Abs(sc.Visual.Path)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("file '%s'", abs))
	}
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return err
	}
	defer func() { _ = os.Remove(listPath) }()

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

// runCrossfade chains xfade/acrossfade across all shots in one filter graph.
// Offsets are on the progressively joined timeline, so each fade overlaps
// the tail of the joined output with the head of the next shot.
func (a *Assembler) runCrossfade(ctx context.Context, shots []ShotClips, durations []float64, crossfade float64, outPath string) error {
	offsets := CrossfadeOffsets(durations, crossfade)

	args := []string{"-y"}
	for _, sc := range shots {
		args = append(args, "-i", sc.Visual.Path)
	}

	var fc strings.Builder
	vPrev, aPrev := "[0:v]", "[0:a]"
	for i := 1; i < len(shots); i++ {
		vOut, aOut := fmt.Sprintf("[v%d]", i), fmt.Sprintf("[a%d]", i)
		fmt.Fprintf(&fc, "%s[%d:v]xfade=transition=fade:duration=%.3f:offset=%.3f%s;",
			vPrev, i, crossfade, offsets[i-1], vOut)
		fmt.Fprintf(&fc, "%s[%d:a]acrossfade=d=%.3f%s;", aPrev, i, crossfade, aOut)
		vPrev, aPrev = vOut, aOut
	}
	filter := strings.TrimSuffix(fc.String(), ";")

	args = append(args,
		"-filter_complex", filter,
		"-map", vPrev,
		"-map", aPrev,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", fmt.Sprintf("%d", a.cfg.Video.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", a.cfg.Audio.Bitrate,
		"-movflags", "+faststart",
		outPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg crossfade: %w", err)
	}
	return nil
}
