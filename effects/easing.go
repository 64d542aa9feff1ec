// Package effects turns a shot's visual asset into a timed 9:16 clip: Ken
// Burns pan/zoom for stills, trim-or-freeze for video assets, plus caption
// overlay synchronized to the narration.
package effects

import "fmt"

// Easing maps progress t in [0,1] to eased progress in [0,1].
type Easing func(t float64) float64

var easings = map[string]Easing{
	"linear":            func(t float64) float64 { return t },
	"ease_in_quad":      func(t float64) float64 { return t * t },
	"ease_out_quad":     func(t float64) float64 { return -t * (t - 2) },
	"ease_in_out_quad":  easeInOutQuad,
	"ease_in_cubic":     func(t float64) float64 { return t * t * t },
	"ease_out_cubic":    func(t float64) float64 { t--; return t*t*t + 1 },
	"ease_in_out_cubic": easeInOutCubic,
}

func easeInOutQuad(t float64) float64 {
	t *= 2
	if t < 1 {
		return 0.5 * t * t
	}
	t--
	return -0.5 * (t*(t-2) - 1)
}

func easeInOutCubic(t float64) float64 {
	t *= 2
	if t < 1 {
		return 0.5 * t * t * t
	}
	t -= 2
	return 0.5 * (t*t*t + 2)
}

// EasingByName returns the named easing, defaulting to linear.
func EasingByName(name string) Easing {
	if e, ok := easings[name]; ok {
		return e
	}
	return easings["linear"]
}

// easingExpr builds the ffmpeg zoompan progress expression for an easing
// over totalFrames frames; `on` is the output frame counter.
func easingExpr(name string, totalFrames int) string {
	n := totalFrames
	switch name {
	case "ease_in_quad":
		return fmt.Sprintf("pow(on/%d, 2)", n)
	case "ease_out_quad":
		return fmt.Sprintf("1-pow(1-on/%d, 2)", n)
	case "ease_in_out_quad":
		return fmt.Sprintf("if(lt(on,%d), 0.5*pow(2*on/%d, 2), 1-0.5*pow(2*(1-on/%d), 2))", n/2, n, n)
	case "ease_in_cubic":
		return fmt.Sprintf("pow(on/%d, 3)", n)
	case "ease_out_cubic":
		return fmt.Sprintf("1-pow(1-on/%d, 3)", n)
	case "ease_in_out_cubic":
		return fmt.Sprintf("if(lt(on,%d), 0.5*pow(2*on/%d, 3), 1-0.5*pow(2*(1-on/%d), 3))", n/2, n, n)
	default:
		return fmt.Sprintf("on/%d", n)
	}
}
