package effects

import (
	"fmt"

	"shorts-engine/types"
)

// CropAt interpolates the visible crop rectangle at eased progress t between
// the start and end rectangles of a Ken Burns trajectory.
func CropAt(kb types.KenBurns, t float64) types.Rect {
	p := EasingByName(kb.Easing)(clamp01(t))
	return types.Rect{
		X: lerp(kb.Start.X, kb.End.X, p),
		Y: lerp(kb.Start.Y, kb.End.Y, p),
		W: lerp(kb.Start.W, kb.End.W, p),
		H: lerp(kb.Start.H, kb.End.H, p),
	}
}

// zoompanFilter builds the ffmpeg zoompan filter that sweeps the crop from
// the start to the end rectangle across the shot. The crop width fraction w
// maps to zoom 1/w; x and y are the crop's top-left in input pixels. frames
// is the per-input-frame hold (total frames for a still, 1 for video).
func zoompanFilter(kb types.KenBurns, totalFrames, frames, outW, outH, fps int) string {
	progress := easingExpr(kb.Easing, totalFrames)

	startZoom := 1.0 / kb.Start.W
	endZoom := 1.0 / kb.End.W
	zoomExpr := fmt.Sprintf("%.5f+(%.5f)*(%s)", startZoom, endZoom-startZoom, progress)

	xExpr := fmt.Sprintf("(%.5f+(%.5f)*(%s))*iw", kb.Start.X, kb.End.X-kb.Start.X, progress)
	yExpr := fmt.Sprintf("(%.5f+(%.5f)*(%s))*ih", kb.Start.Y, kb.End.Y-kb.Start.Y, progress)

	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		zoomExpr, xExpr, yExpr, frames, outW, outH, fps)
}

// fitFilter letterboxes-by-cropping any native aspect ratio onto the 9:16
// canvas: scale up until both dimensions cover, then centered crop. Never
// stretches.
func fitFilter(outW, outH int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1",
		outW, outH, outW, outH)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
