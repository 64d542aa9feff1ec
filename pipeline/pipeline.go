// Package pipeline sequences the stages per command, enforcing stage
// dependency order and idempotent re-run semantics via the stage tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"shorts-engine/assemble"
	"shorts-engine/blueprint"
	"shorts-engine/config"
	"shorts-engine/ffprobe"
	"shorts-engine/stagetrack"
	"shorts-engine/synth"
	"shorts-engine/types"
)

// Synthesizer produces one shot's timed audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, project, version string, shot types.Shot, prev, next string) (types.TimedClip, error)
	ClipPath(project, version string, shot int) string
	LoadSidecar(project, version string, shot int) (*synth.Sidecar, error)
}

// Renderer produces one shot's timed visual clip.
type Renderer interface {
	Render(ctx context.Context, project, version string, shot types.Shot, assetPath string, audio types.TimedClip, alignment *synth.Alignment) (types.TimedClip, error)
	ClipPath(project, version string, shot int) string
}

// Assembler joins all rendered shots into the final video.
type Assembler interface {
	Assemble(ctx context.Context, project, version string, shots []assemble.ShotClips) (types.TimedClip, error)
	FinalPath(project, version string) string
}

// ShotFailure is one shot's failure in one stage.
type ShotFailure struct {
	Shot  int
	Stage string
	Err   error
}

func (f ShotFailure) Error() string {
	return fmt.Sprintf("shot %d stage %s: %v", f.Shot, f.Stage, f.Err)
}

// Report is the consolidated outcome of one command. Stage-local errors
// abort only their shot; independent shots keep going and every failure
// lands here instead of aborting the run.
type Report struct {
	RunID    string
	Project  string
	Version  string
	Failures []ShotFailure
}

func (r *Report) add(f ShotFailure) {
	r.Failures = append(r.Failures, f)
}

// Err returns all failures joined, or nil when the run was clean.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = fmt.Errorf("%s/%s %w", r.Project, r.Version, f)
	}
	return errors.Join(errs...)
}

// Pipeline wires the stages over one blueprint store and stage tracker.
type Pipeline struct {
	cfg       *config.Config
	store     *blueprint.Store
	tracker   *stagetrack.Tracker
	synth     Synthesizer
	renderer  Renderer
	assembler Assembler

	// probeClip measures a rendered artifact when resuming from a prior
	// run; replaced in tests.
	probeClip func(path string) (float64, error)
}

func New(cfg *config.Config, store *blueprint.Store, tracker *stagetrack.Tracker, s Synthesizer, r Renderer, a Assembler) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		synth:     s,
		renderer:  r,
		assembler: a,
		probeClip: ffprobe.Duration,
	}
}

func (p *Pipeline) newReport(project, version string) *Report {
	return &Report{RunID: uuid.NewString()[:8], Project: project, Version: version}
}

// RunAudio synthesizes audio for every shot whose audio record is stale.
// Shots run in a bounded worker pool; unaffected shots are skipped, and a
// failing shot never stops its siblings.
func (p *Pipeline) RunAudio(ctx context.Context, project, version string) (*Report, error) {
	bp, err := p.store.LoadFinal(project, version)
	if err != nil {
		return nil, err
	}
	report := p.newReport(project, version)
	log.Info().Str("run_id", report.RunID).Str("project", project).Str("version", version).
		Int("shots", len(bp.Shots)).Msg("audio stage starting")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i := range bp.Shots {
		shot := bp.Shots[i]
		prev, next := neighborNarrations(bp.Shots, i)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if fail := p.audioShot(gctx, project, version, shot, prev, next); fail != nil {
				mu.Lock()
				report.add(*fail)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancelled between shots: records already marked done stay valid,
		// a retried run resumes from the first non-done shot.
		return report, err
	}
	return report, nil
}

func (p *Pipeline) audioShot(ctx context.Context, project, version string, shot types.Shot, prev, next string) *ShotFailure {
	fp := stagetrack.AudioFingerprint(shot)

	lock := p.tracker.Lock(project, version, shot.Index, stagetrack.StageAudio)
	lock.Lock()
	defer lock.Unlock()

	stale, err := p.tracker.IsStale(ctx, project, version, shot.Index, stagetrack.StageAudio, fp)
	if err != nil {
		return &ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAudio, Err: err}
	}
	if !stale {
		log.Debug().Int("shot", shot.Index).Msg("audio up to date, skipping")
		return nil
	}

	clip, err := p.synth.Synthesize(ctx, project, version, shot, prev, next)
	if err != nil {
		_ = p.tracker.MarkFailed(ctx, project, version, shot.Index, stagetrack.StageAudio)
		return &ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAudio, Err: err}
	}
	if err := p.tracker.MarkDone(ctx, project, version, shot.Index, stagetrack.StageAudio, clip.Path, fp); err != nil {
		return &ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAudio, Err: err}
	}
	return nil
}

// RunEffects renders the visual for every shot whose effects record is
// stale. A shot with no completed, current audio cannot enter this stage.
func (p *Pipeline) RunEffects(ctx context.Context, project, version string) (*Report, error) {
	bp, err := p.store.LoadFinal(project, version)
	if err != nil {
		return nil, err
	}
	report := p.newReport(project, version)
	log.Info().Str("run_id", report.RunID).Str("project", project).Str("version", version).
		Int("shots", len(bp.Shots)).Msg("effects stage starting")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i := range bp.Shots {
		shot := bp.Shots[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if fail := p.effectsShot(gctx, project, version, shot); fail != nil {
				mu.Lock()
				report.add(*fail)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Pipeline) effectsShot(ctx context.Context, project, version string, shot types.Shot) *ShotFailure {
	fail := func(err error) *ShotFailure {
		return &ShotFailure{Shot: shot.Index, Stage: stagetrack.StageEffects, Err: err}
	}

	audioFP := stagetrack.AudioFingerprint(shot)
	stale, err := p.tracker.IsStale(ctx, project, version, shot.Index, stagetrack.StageAudio, audioFP)
	if err != nil {
		return fail(err)
	}
	if stale {
		return fail(fmt.Errorf("audio is missing or stale; run the audio stage first"))
	}

	sidecar, err := p.synth.LoadSidecar(project, version, shot.Index)
	if err != nil {
		return fail(fmt.Errorf("load audio sidecar: %w", err))
	}

	assetPath := p.store.ResolveAsset(project, shot)
	assetHash, err := stagetrack.HashFile(assetPath)
	if err != nil {
		return fail(fmt.Errorf("hash asset %s: %w", assetPath, err))
	}
	fp := stagetrack.EffectsFingerprint(shot, assetHash, audioFP, sidecar.DurationSec)

	lock := p.tracker.Lock(project, version, shot.Index, stagetrack.StageEffects)
	lock.Lock()
	defer lock.Unlock()

	stale, err = p.tracker.IsStale(ctx, project, version, shot.Index, stagetrack.StageEffects, fp)
	if err != nil {
		return fail(err)
	}
	if !stale {
		log.Debug().Int("shot", shot.Index).Msg("visual up to date, skipping")
		return nil
	}

	audioClip := types.TimedClip{
		Path:     p.synth.ClipPath(project, version, shot.Index),
		Duration: sidecar.DurationSec,
	}
	clip, err := p.renderer.Render(ctx, project, version, shot, assetPath, audioClip, sidecar.Alignment)
	if err != nil {
		_ = p.tracker.MarkFailed(ctx, project, version, shot.Index, stagetrack.StageEffects)
		return fail(err)
	}
	if err := p.tracker.MarkDone(ctx, project, version, shot.Index, stagetrack.StageEffects, clip.Path, fp); err != nil {
		return fail(err)
	}
	return nil
}

// RunAssemble joins all shots into the final video. Assembly is strictly
// sequential and refuses to start until every shot's visual is done and
// current; its failure is fail-fast since it has no shot-local scope.
func (p *Pipeline) RunAssemble(ctx context.Context, project, version string) (*Report, error) {
	bp, err := p.store.LoadFinal(project, version)
	if err != nil {
		return nil, err
	}
	report := p.newReport(project, version)

	shots := make([]assemble.ShotClips, 0, len(bp.Shots))
	fingerprints := make([]string, 0, len(bp.Shots))
	for _, shot := range bp.Shots {
		rec, err := p.tracker.Get(ctx, project, version, shot.Index, stagetrack.StageEffects)
		if err != nil {
			return report, err
		}
		if rec.Status != types.StatusDone {
			report.add(ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAssemble,
				Err: fmt.Errorf("visual not done (status %s); assembly blocked", rec.Status)})
			continue
		}
		sidecar, err := p.synth.LoadSidecar(project, version, shot.Index)
		if err != nil {
			report.add(ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAssemble, Err: err})
			continue
		}
		visualDur, err := p.probeClip(rec.Artifact)
		if err != nil {
			report.add(ShotFailure{Shot: shot.Index, Stage: stagetrack.StageAssemble,
				Err: fmt.Errorf("measure rendered clip: %w", err)})
			continue
		}
		shots = append(shots, assemble.ShotClips{
			Shot:   shot.Index,
			Audio:  types.TimedClip{Path: p.synth.ClipPath(project, version, shot.Index), Duration: sidecar.DurationSec},
			Visual: types.TimedClip{Path: rec.Artifact, Duration: visualDur},
		})
		fingerprints = append(fingerprints, rec.Fingerprint)
	}
	if len(report.Failures) > 0 {
		return report, report.Err()
	}

	fp := stagetrack.AssembleFingerprint(fingerprints, p.cfg.Transitions.Kind, p.cfg.Transitions.CrossfadeSec)

	lock := p.tracker.Lock(project, version, stagetrack.AssembleShotIndex, stagetrack.StageAssemble)
	lock.Lock()
	defer lock.Unlock()

	stale, err := p.tracker.IsStale(ctx, project, version, stagetrack.AssembleShotIndex, stagetrack.StageAssemble, fp)
	if err != nil {
		return report, err
	}
	if !stale {
		log.Info().Str("project", project).Str("version", version).Msg("final video up to date, skipping assembly")
		return report, nil
	}

	final, err := p.assembler.Assemble(ctx, project, version, shots)
	if err != nil {
		_ = p.tracker.MarkFailed(ctx, project, version, stagetrack.AssembleShotIndex, stagetrack.StageAssemble)
		return report, err
	}
	if err := p.tracker.MarkDone(ctx, project, version, stagetrack.AssembleShotIndex, stagetrack.StageAssemble, final.Path, fp); err != nil {
		return report, err
	}
	return report, nil
}

// RunAll runs audio, effects and assembly in order. Per-shot failures in the
// parallel stages are carried forward so unaffected shots still progress;
// assembly only runs when every shot made it through.
func (p *Pipeline) RunAll(ctx context.Context, project, version string) (*Report, error) {
	audioReport, err := p.RunAudio(ctx, project, version)
	if err != nil {
		return audioReport, err
	}
	effectsReport, err := p.RunEffects(ctx, project, version)
	if err != nil {
		return effectsReport, err
	}

	merged := p.newReport(project, version)
	merged.Failures = append(merged.Failures, audioReport.Failures...)
	merged.Failures = append(merged.Failures, effectsReport.Failures...)
	if len(merged.Failures) > 0 {
		return merged, merged.Err()
	}

	assembleReport, err := p.RunAssemble(ctx, project, version)
	if err != nil {
		return assembleReport, err
	}
	merged.Failures = append(merged.Failures, assembleReport.Failures...)
	return merged, merged.Err()
}

func (p *Pipeline) workers() int {
	if p.cfg.Pipeline.Workers > 0 {
		return p.cfg.Pipeline.Workers
	}
	return 1
}

func neighborNarrations(shots []types.Shot, i int) (prev, next string) {
	if i > 0 {
		prev = shots[i-1].Narration
	}
	if i < len(shots)-1 {
		next = shots[i+1].Narration
	}
	return prev, next
}
