package effects

import (
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/renameio/v2"
	"golang.org/x/image/font"

	"shorts-engine/config"
	"shorts-engine/synth"
)

// wordTiming is one narration word with its start/end seconds, derived from
// the provider's character-level alignment.
type wordTiming struct {
	Word  string
	Start float64
	End   float64
}

// wordsFromAlignment folds character timings into word timings. A sidecar
// read back from disk may carry timing arrays shorter than the character
// list; only the covered prefix is usable.
func wordsFromAlignment(al *synth.Alignment) []wordTiming {
	n := min(len(al.Characters), len(al.CharStartSecs), len(al.CharEndSecs))

	var words []wordTiming
	var current strings.Builder
	start := -1

	flush := func(endIdx int) {
		if current.Len() == 0 || start < 0 {
			return
		}
		words = append(words, wordTiming{
			Word:  current.String(),
			Start: al.CharStartSecs[start],
			End:   al.CharEndSecs[endIdx],
		})
		current.Reset()
		start = -1
	}

	for i := 0; i < n; i++ {
		ch := al.Characters[i]
		if ch == " " || ch == "\n" {
			flush(i - 1)
			continue
		}
		if start < 0 {
			start = i
		}
		current.WriteString(ch)
	}
	flush(n - 1)
	return words
}

const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
PlayResX: %d
PlayResY: %d
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Roboto Bold,%d,&H0000FFFF,&H00FFFFFF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,3,1.5,2,30,30,%d,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// karaokeASS renders word timings as an ASS subtitle script, highlighting
// words karaoke-style in chunks of wordsPerLine.
func karaokeASS(words []wordTiming, cfg config.CaptionsConfig, width, height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, assHeader, width, height, cfg.FontSize, cfg.MarginBottom)

	chunkSize := cfg.WordsPerLine
	if chunkSize <= 0 {
		chunkSize = 2
	}
	for i := 0; i < len(words); i += chunkSize {
		chunk := words[i:min(i+chunkSize, len(words))]

		var parts []string
		for j, w := range chunk {
			// Highlight holds until the next word begins, or the word's own
			// end for the last one in the chunk.
			end := w.End
			if j < len(chunk)-1 {
				end = chunk[j+1].Start
			}
			durCS := int((end - w.Start) * 100)
			if durCS < 0 {
				durCS = 0
			}
			parts = append(parts, fmt.Sprintf("{\\K%d}%s", durCS, w.Word))
		}

		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,{\\q2}%s\n",
			FormatASSTime(chunk[0].Start),
			FormatASSTime(chunk[len(chunk)-1].End),
			strings.Join(parts, " "))
	}
	return b.String()
}

// FormatASSTime converts seconds to the H:MM:SS.cc form ASS dialogue uses.
func FormatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
}

// WriteASS writes the karaoke subtitle file for a shot's alignment and
// returns its path.
func WriteASS(path string, al *synth.Alignment, cfg config.CaptionsConfig, width, height int) error {
	words := wordsFromAlignment(al)
	if len(words) == 0 {
		return fmt.Errorf("alignment contains no words")
	}
	content := karaokeASS(words, cfg, width, height)
	return renameio.WriteFile(path, []byte(content), 0o644)
}

// RenderCaptionCard rasterizes a full-shot caption (text in a translucent
// box) to a transparent PNG sized to the output canvas. Used when a shot has
// no alignment data to sync words against.
func RenderCaptionCard(path, text, fontPath string, cfg config.CaptionsConfig, width, height int) error {
	dc := gg.NewContext(width, height)

	face, err := loadFace(fontPath, float64(cfg.FontSize))
	if err != nil {
		return fmt.Errorf("load caption font: %w", err)
	}
	dc.SetFontFace(face)

	maxW := float64(width) - 120
	lines := dc.WordWrap(text, maxW)
	lineH := float64(cfg.FontSize) * 1.35
	boxH := lineH*float64(len(lines)) + 50
	boxTop := float64(height) - float64(cfg.MarginBottom) - boxH

	bg := parseHexColor(cfg.BoxColor)
	dc.SetRGBA(float64(bg.R)/255, float64(bg.G)/255, float64(bg.B)/255, cfg.BoxOpacity)
	dc.DrawRoundedRectangle(40, boxTop, float64(width)-80, boxH, 18)
	dc.Fill()

	fg := parseHexColor(cfg.Color)
	dc.SetRGBA(float64(fg.R)/255, float64(fg.G)/255, float64(fg.B)/255, 1)
	for i, line := range lines {
		y := boxTop + 25 + lineH*float64(i) + lineH/2
		dc.DrawStringAnchored(line, float64(width)/2, y, 0.5, 0.35)
	}

	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()
	if err := dc.EncodePNG(pf); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

func loadFace(path string, points float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

func parseHexColor(s string) color.RGBA {
	c := color.RGBA{A: 255}
	s = strings.TrimPrefix(s, "#")
	if len(s) == 6 {
		fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B)
	}
	return c
}
