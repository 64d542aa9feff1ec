// Package blueprint loads, validates and persists the per-(project, version)
// blueprint documents that drive the pipeline.
package blueprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"

	"shorts-engine/config"
	"shorts-engine/types"
)

// ErrNotFound is returned when no blueprint exists for a (project, version).
var ErrNotFound = errors.New("blueprint not found")

// ValidationError describes one schema violation in a blueprint. Validation
// errors are never retried; the caller fixes the blueprint and re-submits.
type ValidationError struct {
	Shot  int // -1 for blueprint-level problems
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Shot < 0 {
		return fmt.Sprintf("blueprint %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("shot %d %s: %s", e.Shot, e.Field, e.Msg)
}

// Store reads and writes blueprint JSON under each project's blueprints dir.
type Store struct {
	cfg *config.Config
}

func NewStore(cfg *config.Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) draftPath(project, version string) string {
	return filepath.Join(s.cfg.BlueprintDir(project), fmt.Sprintf("draft_%s.json", version))
}

func (s *Store) finalPath(project, version string) string {
	return filepath.Join(s.cfg.BlueprintDir(project), fmt.Sprintf("final_%s.json", version))
}

// Load returns the blueprint for a (project, version), preferring the
// finalized document over a draft. Returns ErrNotFound when neither exists.
func (s *Store) Load(project, version string) (*types.Blueprint, error) {
	for _, path := range []string{s.finalPath(project, version), s.draftPath(project, version)} {
		bp, err := readBlueprint(path)
		if err == nil {
			return bp, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read blueprint %s: %w", path, err)
		}
	}
	return nil, ErrNotFound
}

// LoadFinal returns only the finalized blueprint for a (project, version).
func (s *Store) LoadFinal(project, version string) (*types.Blueprint, error) {
	bp, err := readBlueprint(s.finalPath(project, version))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bp, nil
}

// SaveDraft validates and writes a draft blueprint. If a finalized blueprint
// already exists for the same version with a different shot count, the save
// is rejected unless newDraft is set: shot count and order of a finalized
// blueprint are frozen, because changing them silently invalidates every
// downstream StageRecord.
func (s *Store) SaveDraft(bp *types.Blueprint, newDraft bool) error {
	if errs := Validate(bp); len(errs) > 0 {
		return errs[0]
	}
	if existing, err := s.LoadFinal(bp.Project, bp.Version); err == nil {
		if len(existing.Shots) != len(bp.Shots) && !newDraft {
			return ValidationError{
				Shot:  -1,
				Field: "shots",
				Msg: fmt.Sprintf("finalized blueprint for version %s has %d shots, draft has %d; pass the new-draft flag to start over",
					bp.Version, len(existing.Shots), len(bp.Shots)),
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	bp.Finalized = false
	if err := s.cfg.EnsureProjectDirs(bp.Project); err != nil {
		return err
	}
	return writeBlueprint(s.draftPath(bp.Project, bp.Version), bp)
}

// Finalize promotes the draft for a (project, version) to the finalized
// blueprint, requiring every shot's visual asset to resolve on disk.
func (s *Store) Finalize(project, version string) (*types.Blueprint, error) {
	bp, err := readBlueprint(s.draftPath(project, version))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if errs := Validate(bp); len(errs) > 0 {
		return nil, errs[0]
	}
	for _, shot := range bp.Shots {
		if shot.AssetPath == "" {
			return nil, ValidationError{Shot: shot.Index, Field: "asset_path", Msg: "no resolved visual asset; generate it from the prompt and set the path"}
		}
		path := s.resolveAsset(project, shot.AssetPath)
		if _, err := os.Stat(path); err != nil {
			return nil, ValidationError{Shot: shot.Index, Field: "asset_path", Msg: fmt.Sprintf("asset %s not readable: %v", path, err)}
		}
	}
	bp.Finalized = true
	if err := writeBlueprint(s.finalPath(project, version), bp); err != nil {
		return nil, err
	}
	log.Info().Str("project", project).Str("version", version).
		Int("shots", len(bp.Shots)).Msg("blueprint finalized")
	return bp, nil
}

// ResolveAsset turns a shot's asset reference into an absolute-ish path:
// references are relative to the project assets dir unless already rooted.
func (s *Store) ResolveAsset(project string, shot types.Shot) string {
	return s.resolveAsset(project, shot.AssetPath)
}

func (s *Store) resolveAsset(project, ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(s.cfg.AssetDir(project), ref)
}

// Validate enforces the blueprint schema invariants: a non-empty shot list,
// unique indices forming a contiguous 0..N-1 range, non-empty narration per
// shot, and Ken Burns rectangles within normalized image space.
func Validate(bp *types.Blueprint) []ValidationError {
	var errs []ValidationError
	if bp.Project == "" {
		errs = append(errs, ValidationError{Shot: -1, Field: "project", Msg: "empty"})
	}
	if bp.Version == "" {
		errs = append(errs, ValidationError{Shot: -1, Field: "version", Msg: "empty"})
	}
	if len(bp.Shots) == 0 {
		errs = append(errs, ValidationError{Shot: -1, Field: "shots", Msg: "empty shot list"})
		return errs
	}
	seen := make(map[int]bool, len(bp.Shots))
	for _, shot := range bp.Shots {
		if shot.Index < 0 || shot.Index >= len(bp.Shots) {
			errs = append(errs, ValidationError{Shot: shot.Index, Field: "index", Msg: fmt.Sprintf("out of range 0..%d", len(bp.Shots)-1)})
			continue
		}
		if seen[shot.Index] {
			errs = append(errs, ValidationError{Shot: shot.Index, Field: "index", Msg: "duplicate"})
		}
		seen[shot.Index] = true
	}
	for i := 0; i < len(bp.Shots); i++ {
		if !seen[i] {
			errs = append(errs, ValidationError{Shot: i, Field: "index", Msg: "missing from contiguous range"})
		}
	}
	for _, shot := range bp.Shots {
		if shot.Narration == "" {
			errs = append(errs, ValidationError{Shot: shot.Index, Field: "narration", Msg: "empty"})
		}
		for name, r := range map[string]types.Rect{"ken_burns.start": shot.KenBurns.Start, "ken_burns.end": shot.KenBurns.End} {
			if err := validateRect(r); err != "" {
				errs = append(errs, ValidationError{Shot: shot.Index, Field: name, Msg: err})
			}
		}
	}
	return errs
}

func validateRect(r types.Rect) string {
	if r.W <= 0 || r.H <= 0 {
		return "zero-size crop rectangle"
	}
	if r.X < 0 || r.Y < 0 || r.X+r.W > 1 || r.Y+r.H > 1 {
		return fmt.Sprintf("outside [0,1] normalized space: x=%.3f y=%.3f w=%.3f h=%.3f", r.X, r.Y, r.W, r.H)
	}
	return ""
}

func readBlueprint(path string) (*types.Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bp types.Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &bp, nil
}

// writeBlueprint persists a blueprint atomically: fsync before rename, so a
// crash mid-save never leaves a truncated document behind.
func writeBlueprint(path string, bp *types.Blueprint) error {
	data, err := json.MarshalIndent(bp, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blueprint %s: %w", path, err)
	}
	return nil
}
