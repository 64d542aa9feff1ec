package effects

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-engine/config"
	"shorts-engine/synth"
	"shorts-engine/types"
)

func TestEasingEndpoints(t *testing.T) {
	for name := range easings {
		e := EasingByName(name)
		assert.InDelta(t, 0, e(0), 1e-9, name)
		assert.InDelta(t, 1, e(1), 1e-9, name)
	}
}

func TestEasingIsMonotonic(t *testing.T) {
	for name := range easings {
		e := EasingByName(name)
		prev := e(0)
		for i := 1; i <= 100; i++ {
			v := e(float64(i) / 100)
			assert.GreaterOrEqual(t, v, prev, "%s at t=%d/100", name, i)
			prev = v
		}
	}
}

func TestEasingByNameDefaultsToLinear(t *testing.T) {
	e := EasingByName("no_such_easing")
	assert.InDelta(t, 0.37, e(0.37), 1e-9)
}

func TestCropAtInterpolates(t *testing.T) {
	kb := types.KenBurns{
		Start:  types.Rect{X: 0, Y: 0, W: 1, H: 1},
		End:    types.Rect{X: 0.2, Y: 0.1, W: 0.6, H: 0.6},
		Easing: "linear",
	}

	assert.Equal(t, kb.Start, CropAt(kb, 0))
	assert.Equal(t, kb.End, CropAt(kb, 1))

	mid := CropAt(kb, 0.5)
	assert.InDelta(t, 0.1, mid.X, 1e-9)
	assert.InDelta(t, 0.05, mid.Y, 1e-9)
	assert.InDelta(t, 0.8, mid.W, 1e-9)

	// Progress outside [0,1] clamps to the endpoints.
	assert.Equal(t, kb.Start, CropAt(kb, -0.5))
	assert.Equal(t, kb.End, CropAt(kb, 1.5))
}

func TestCropAtHonorsEasing(t *testing.T) {
	kb := types.KenBurns{
		Start:  types.Rect{W: 1, H: 1},
		End:    types.Rect{X: 0.4, W: 0.5, H: 0.5},
		Easing: "ease_in_quad",
	}
	// Eased progress at t=0.5 is 0.25, so the crop sits a quarter of the way.
	mid := CropAt(kb, 0.5)
	assert.InDelta(t, 0.1, mid.X, 1e-9)
	assert.InDelta(t, 0.875, mid.W, 1e-9)
}

func TestZoompanFilter(t *testing.T) {
	kb := types.KenBurns{
		Start:  types.Rect{X: 0, Y: 0, W: 1, H: 1},
		End:    types.Rect{X: 0.1, Y: 0.1, W: 0.5, H: 0.5},
		Easing: "linear",
	}
	f := zoompanFilter(kb, 90, 90, 1080, 1920, 30)

	assert.Contains(t, f, "zoompan=")
	assert.Contains(t, f, "d=90")
	assert.Contains(t, f, "s=1080x1920")
	assert.Contains(t, f, "fps=30")
	assert.Contains(t, f, "on/90", "linear progress over the shot's frames")
	// W 1.0 -> 0.5 means zoom 1.0 -> 2.0.
	assert.Contains(t, f, "1.00000+(1.00000)")

	// Video assets hold each input frame for a single output frame.
	f = zoompanFilter(kb, 90, 1, 1080, 1920, 30)
	assert.Contains(t, f, "d=1")
}

func TestFitFilterNeverStretches(t *testing.T) {
	f := fitFilter(1080, 1920)
	assert.Contains(t, f, "force_original_aspect_ratio=increase")
	assert.Contains(t, f, "crop=1080:1920")
	assert.Contains(t, f, "setsar=1")
}

func TestFormatASSTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", FormatASSTime(0))
	assert.Equal(t, "0:00:01.50", FormatASSTime(1.5))
	assert.Equal(t, "0:01:05.25", FormatASSTime(65.25))
	assert.Equal(t, "1:00:00.00", FormatASSTime(3600))
	assert.Equal(t, "0:00:00.00", FormatASSTime(-2), "negative timestamps clamp to zero")
}

func alignmentFor(text string) *synth.Alignment {
	al := &synth.Alignment{}
	for i, r := range text {
		al.Characters = append(al.Characters, string(r))
		al.CharStartSecs = append(al.CharStartSecs, float64(i)*0.1)
		al.CharEndSecs = append(al.CharEndSecs, float64(i+1)*0.1)
	}
	return al
}

func TestWordsFromAlignment(t *testing.T) {
	words := wordsFromAlignment(alignmentFor("hi there world"))
	require.Len(t, words, 3)

	assert.Equal(t, "hi", words[0].Word)
	assert.InDelta(t, 0.0, words[0].Start, 1e-9)
	assert.InDelta(t, 0.2, words[0].End, 1e-9)

	assert.Equal(t, "there", words[1].Word)
	assert.InDelta(t, 0.3, words[1].Start, 1e-9)

	assert.Equal(t, "world", words[2].Word)
	assert.InDelta(t, 1.4, words[2].End, 1e-9)
}

func TestWordsFromAlignmentCollapsesWhitespace(t *testing.T) {
	words := wordsFromAlignment(alignmentFor("a  b\nc"))
	require.Len(t, words, 3)
	assert.Equal(t, "a", words[0].Word)
	assert.Equal(t, "b", words[1].Word)
	assert.Equal(t, "c", words[2].Word)
}

func TestWordsFromAlignmentTruncatedTimings(t *testing.T) {
	// Five characters but only two timing entries: the uncovered tail is
	// dropped instead of panicking.
	al := &synth.Alignment{
		Characters:    []string{"h", "i", " ", "y", "o"},
		CharStartSecs: []float64{0, 0.1},
		CharEndSecs:   []float64{0.1, 0.2},
	}
	words := wordsFromAlignment(al)
	require.Len(t, words, 1)
	assert.Equal(t, "hi", words[0].Word)
	assert.InDelta(t, 0.2, words[0].End, 1e-9)

	assert.Empty(t, wordsFromAlignment(&synth.Alignment{Characters: []string{"h", "i"}}))
}

func TestKaraokeASSChunksWords(t *testing.T) {
	cfg := config.CaptionsConfig{WordsPerLine: 2, FontSize: 64, MarginBottom: 280}
	words := wordsFromAlignment(alignmentFor("one two three four five"))
	script := karaokeASS(words, cfg, 1080, 1920)

	assert.Contains(t, script, "PlayResX: 1080")
	assert.Contains(t, script, "PlayResY: 1920")

	dialogues := 0
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(line, "Dialogue:") {
			dialogues++
			assert.Contains(t, line, `{\q2}`)
			assert.Contains(t, line, `{\K`)
		}
	}
	assert.Equal(t, 3, dialogues, "five words in chunks of two")
}

func TestKaraokeASSHighlightCoversGapToNextWord(t *testing.T) {
	cfg := config.CaptionsConfig{WordsPerLine: 2, FontSize: 64, MarginBottom: 280}
	words := []wordTiming{
		{Word: "slow", Start: 0, End: 0.3},
		{Word: "reveal", Start: 1.0, End: 1.5},
	}
	script := karaokeASS(words, cfg, 1080, 1920)

	// The first word's highlight holds through the pause until the second
	// word starts: 1.0s = 100 centiseconds.
	assert.Contains(t, script, `{\K100}slow`)
	assert.Contains(t, script, `{\K50}reveal`)
}

func TestAssetIsVideo(t *testing.T) {
	assert.True(t, assetIsVideo(types.Shot{AssetKind: "video"}, "clip.png"))
	assert.False(t, assetIsVideo(types.Shot{AssetKind: "image"}, "clip.mp4"))
	assert.True(t, assetIsVideo(types.Shot{}, "clip.MP4"))
	assert.True(t, assetIsVideo(types.Shot{}, "clip.webm"))
	assert.False(t, assetIsVideo(types.Shot{}, "frame.jpg"))
}

func TestEscapeDrawText(t *testing.T) {
	assert.Equal(t, `it\'s 9\:16`, escapeDrawText("it's 9:16"))
}
