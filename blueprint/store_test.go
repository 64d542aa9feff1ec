package blueprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-engine/config"
	"shorts-engine/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProjectsRoot = filepath.Join(t.TempDir(), "projects")
	return cfg
}

func validShot(i int) types.Shot {
	return types.Shot{
		Index:     i,
		Narration: "some narration",
		AssetPath: "img.png",
		Voice:     types.VoiceSettings{VoiceID: "v1", Stability: 0.75, Similarity: 0.75},
		KenBurns: types.KenBurns{
			Start:  types.Rect{X: 0, Y: 0, W: 1, H: 1},
			End:    types.Rect{X: 0.1, Y: 0.1, W: 0.8, H: 0.8},
			Easing: "ease_in_out_quad",
		},
	}
}

func validBlueprint(shots ...types.Shot) *types.Blueprint {
	return &types.Blueprint{
		Project: "demo",
		Version: "A",
		Title:   "Demo",
		Formula: "Secret Value",
		Shots:   shots,
	}
}

func TestValidateRejectsEmptyShotList(t *testing.T) {
	errs := Validate(validBlueprint())
	require.Len(t, errs, 1)
	assert.Equal(t, "shots", errs[0].Field)
}

func TestValidateRejectsNonContiguousIndices(t *testing.T) {
	bp := validBlueprint(validShot(0), validShot(2))
	errs := Validate(bp)
	require.NotEmpty(t, errs)

	bp = validBlueprint(validShot(0), validShot(0))
	errs = Validate(bp)
	require.NotEmpty(t, errs)
	var hasDuplicate bool
	for _, e := range errs {
		if e.Msg == "duplicate" {
			hasDuplicate = true
		}
	}
	assert.True(t, hasDuplicate)
}

func TestValidateRejectsEmptyNarration(t *testing.T) {
	shot := validShot(0)
	shot.Narration = ""
	errs := Validate(validBlueprint(shot))
	require.Len(t, errs, 1)
	assert.Equal(t, "narration", errs[0].Field)
	assert.Equal(t, 0, errs[0].Shot)
}

func TestValidateRejectsBadRectangles(t *testing.T) {
	shot := validShot(0)
	shot.KenBurns.End = types.Rect{X: 0.5, Y: 0.5, W: 0.8, H: 0.8} // extends past 1.0
	errs := Validate(validBlueprint(shot))
	require.Len(t, errs, 1)
	assert.Equal(t, "ken_burns.end", errs[0].Field)

	shot = validShot(0)
	shot.KenBurns.Start.W = 0
	errs = Validate(validBlueprint(shot))
	require.Len(t, errs, 1)
	assert.Equal(t, "zero-size crop rectangle", errs[0].Msg)
}

func TestLoadNotFound(t *testing.T) {
	store := NewStore(testConfig(t))
	_, err := store.Load("ghost", "A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDraftAndFinalize(t *testing.T) {
	cfg := testConfig(t)
	store := NewStore(cfg)
	bp := validBlueprint(validShot(0), validShot(1))

	require.NoError(t, store.SaveDraft(bp, false))

	// Finalize fails until the assets resolve on disk.
	_, err := store.Finalize("demo", "A")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetDir("demo"), "img.png"), []byte("png"), 0o644))
	final, err := store.Finalize("demo", "A")
	require.NoError(t, err)
	assert.True(t, final.Finalized)

	loaded, err := store.LoadFinal("demo", "A")
	require.NoError(t, err)
	assert.Len(t, loaded.Shots, 2)
}

func TestFinalizedShotCountIsFrozen(t *testing.T) {
	cfg := testConfig(t)
	store := NewStore(cfg)
	bp := validBlueprint(validShot(0), validShot(1))
	require.NoError(t, store.SaveDraft(bp, false))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetDir("demo"), "img.png"), []byte("png"), 0o644))
	_, err := store.Finalize("demo", "A")
	require.NoError(t, err)

	// Same shot count: edits are fine.
	edited := validBlueprint(validShot(0), validShot(1))
	edited.Shots[1].Narration = "rewritten line"
	assert.NoError(t, store.SaveDraft(edited, false))

	// Different shot count without the new-draft flag: rejected.
	grown := validBlueprint(validShot(0), validShot(1), validShot(2))
	err = store.SaveDraft(grown, false)
	require.Error(t, err)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)

	// Explicit new draft starts over.
	assert.NoError(t, store.SaveDraft(grown, true))
}

func TestResolveAsset(t *testing.T) {
	cfg := testConfig(t)
	store := NewStore(cfg)

	shot := validShot(0)
	assert.Equal(t, filepath.Join(cfg.AssetDir("demo"), "img.png"), store.ResolveAsset("demo", shot))

	shot.AssetPath = "/abs/path.png"
	assert.Equal(t, "/abs/path.png", store.ResolveAsset("demo", shot))
}
