package stagetrack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"shorts-engine/types"
)

// AudioFingerprint hashes everything that feeds one shot's synthesis: the
// narration text and the opaque voice settings. A changed narration or voice
// parameter yields a new fingerprint and therefore a stale audio record.
func AudioFingerprint(shot types.Shot) string {
	voice, _ := json.Marshal(shot.Voice)
	return hashParts("audio", shot.Narration, string(voice))
}

// EffectsFingerprint hashes the effect stage's inputs: the asset content,
// the Ken Burns parameters, the caption text and the upstream audio
// fingerprint plus measured duration. Chaining the upstream fingerprint in
// makes staleness cascade: new audio always invalidates the visual.
func EffectsFingerprint(shot types.Shot, assetHash, audioFingerprint string, audioDuration float64) string {
	kb, _ := json.Marshal(shot.KenBurns)
	return hashParts("effects", assetHash, string(kb), shot.CaptionText(),
		audioFingerprint, fmt.Sprintf("%.3f", audioDuration))
}

// AssembleFingerprint hashes the ordered per-shot visual fingerprints plus
// the transition policy; any re-rendered shot invalidates the final cut.
func AssembleFingerprint(shotFingerprints []string, transitionKind string, crossfadeSec float64) string {
	parts := append([]string{"assemble", transitionKind, fmt.Sprintf("%.3f", crossfadeSec)}, shotFingerprints...)
	return hashParts(parts...)
}

// HashFile returns the sha256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		// Length prefix keeps ("ab","c") distinct from ("a","bc").
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
