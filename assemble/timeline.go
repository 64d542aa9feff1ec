// Package assemble concatenates per-shot clips into the single continuous
// 9:16 output, resolving cross-shot timing and transition overlap.
package assemble

// Segment is one shot's span on the final timeline, [Start, End) seconds.
type Segment struct {
	Shot  int
	Start float64
	End   float64
}

// Timeline places shots of the given durations in order. A crossfade of
// length f borrows symmetric time from the tail of shot i and the head of
// shot i+1: each transition shortens the total by exactly f, while every
// shot's own advertised duration is unchanged. With n shots and k = n-1
// fades the total is sum(durations) - k*f.
func Timeline(durations []float64, crossfade float64) ([]Segment, float64) {
	segments := make([]Segment, 0, len(durations))
	var cursor float64
	for i, d := range durations {
		start := cursor
		if i > 0 && crossfade > 0 {
			start -= crossfade
		}
		end := start + d
		segments = append(segments, Segment{Shot: i, Start: start, End: end})
		cursor = end
	}
	return segments, cursor
}

// CrossfadeOffsets returns, for each transition i -> i+1, the time on the
// already-joined timeline at which the fade begins. These are the xfade
// offset values.
func CrossfadeOffsets(durations []float64, crossfade float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, 0, len(durations)-1)
	joined := durations[0]
	for _, d := range durations[1:] {
		offsets = append(offsets, joined-crossfade)
		joined += d - crossfade
	}
	return offsets
}
