// Package ffprobe measures media files by shelling out to ffprobe.
package ffprobe

import (
	"fmt"
	"os/exec"
	"strings"
)

// Duration returns a media file's container duration in seconds.
func Duration(path string) (float64, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}
	var dur float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur)
	return dur, err
}
