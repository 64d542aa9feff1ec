package types

// Rect is a crop rectangle in normalized image space: x, y is the top-left
// corner and all four values live in [0,1].
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// VoiceSettings are passed opaquely to the synthesis provider.
type VoiceSettings struct {
	VoiceID    string  `json:"voice_id"`
	ModelID    string  `json:"model_id,omitempty"`
	Stability  float64 `json:"stability"`
	Similarity float64 `json:"similarity_boost"`
	Style      float64 `json:"style"`
	Speed      float64 `json:"speed,omitempty"`
}

// KenBurns describes the pan/zoom trajectory for a still image: the visible
// crop interpolates from Start to End across the shot duration.
type KenBurns struct {
	Start  Rect   `json:"start"`
	End    Rect   `json:"end"`
	Easing string `json:"easing"` // linear | ease_in_quad | ease_out_quad | ease_in_out_quad | ease_in_cubic | ease_out_cubic | ease_in_out_cubic
}

// Shot is one timeline segment: one narration line, one visual, one set of
// effect parameters.
type Shot struct {
	Index     int           `json:"index"`
	Narration string        `json:"narration"`
	AssetPath string        `json:"asset_path,omitempty"` // resolved file under the project assets dir
	AssetKind string        `json:"asset_kind,omitempty"` // image | video; probed if empty
	Prompt    string        `json:"prompt,omitempty"`     // generation prompt when no asset is resolved yet
	Voice     VoiceSettings `json:"voice"`
	KenBurns  KenBurns      `json:"ken_burns"`
	Caption   string        `json:"caption,omitempty"` // overrides narration-derived caption text
}

// Blueprint is the full plan for one (project, version) video. Once
// finalized, shot count and order are frozen; edits create a new draft.
type Blueprint struct {
	Project     string `json:"project"`
	Version     string `json:"version"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Formula     string `json:"script_formula"`
	Shots       []Shot `json:"shots"`
	Finalized   bool   `json:"finalized"`
}

// CaptionText returns the text to overlay for a shot: the explicit caption
// when set, otherwise the narration itself.
func (s Shot) CaptionText() string {
	if s.Caption != "" {
		return s.Caption
	}
	return s.Narration
}

// TimedClip is the output of a synthesis or rendering stage. Duration is
// measured from the produced artifact and is authoritative; it is never
// silently rescaled.
type TimedClip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration_sec"`
}

// Status of one (shot, stage) computation.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusStale   Status = "stale"
	StatusFailed  Status = "failed"
)

// StageRecord is the persisted state of one (project, version, shot, stage)
// computation. Fingerprint is a content hash of the inputs that produced the
// artifact; a mismatch is the sole signal that the record is stale.
type StageRecord struct {
	Project     string `json:"project"`
	Version     string `json:"version"`
	Shot        int    `json:"shot"`
	Stage       string `json:"stage"`
	Status      Status `json:"status"`
	Artifact    string `json:"artifact"`
	Fingerprint string `json:"fingerprint"`
	UpdatedAt   string `json:"updated_at"`
}
