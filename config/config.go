package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Video       VideoConfig       `yaml:"video"`
	Audio       AudioConfig       `yaml:"audio"`
	Captions    CaptionsConfig    `yaml:"captions"`
	Transitions TransitionsConfig `yaml:"transitions"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Publish     PublishConfig     `yaml:"publish"`
	Paths       PathsConfig       `yaml:"paths"`
}

type VideoConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
	CRF    int `yaml:"crf"`
}

type AudioConfig struct {
	OutputFormat string `yaml:"output_format"` // ElevenLabs format id, e.g. mp3_44100_128
	Bitrate      string `yaml:"bitrate"`       // final mux AAC bitrate
}

type CaptionsConfig struct {
	Font         string  `yaml:"font"`      // TTF file under the shared assets dir
	FontSize     int     `yaml:"font_size"`
	Color        string  `yaml:"color"`
	BoxColor     string  `yaml:"box_color"`
	BoxOpacity   float64 `yaml:"box_opacity"`
	MarginBottom int     `yaml:"margin_bottom"`
	WordsPerLine int     `yaml:"words_per_line"` // karaoke chunk size
}

type TransitionsConfig struct {
	Kind         string  `yaml:"kind"` // cut | crossfade
	CrossfadeSec float64 `yaml:"crossfade_sec"`
}

type PipelineConfig struct {
	Workers int `yaml:"workers"` // parallel shots in audio/effects stages
}

type PublishConfig struct {
	Visibility      string `yaml:"visibility"`
	CategoryID      string `yaml:"category_id"`
	DefaultLanguage string `yaml:"default_language"`
}

type PathsConfig struct {
	ProjectsRoot string `yaml:"projects_root"`
	AssetsRoot   string `yaml:"assets_root"` // shared fonts/watermarks, read-only
}

// Load reads config.yaml and fills in defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration: 1080x1920 at 30fps with hard
// cuts and four parallel shot workers.
func Default() *Config {
	return &Config{
		Video: VideoConfig{Width: 1080, Height: 1920, FPS: 30, CRF: 20},
		Audio: AudioConfig{OutputFormat: "mp3_44100_128", Bitrate: "192k"},
		Captions: CaptionsConfig{
			FontSize:     62,
			Color:        "#FFFFFF",
			BoxColor:     "#000000",
			BoxOpacity:   0.6,
			MarginBottom: 220,
			WordsPerLine: 2,
		},
		Transitions: TransitionsConfig{Kind: "cut", CrossfadeSec: 0.5},
		Pipeline:    PipelineConfig{Workers: 4},
		Publish:     PublishConfig{Visibility: "private", CategoryID: "24", DefaultLanguage: "en"},
		Paths:       PathsConfig{ProjectsRoot: "projects", AssetsRoot: "assets"},
	}
}

// APIKeys parses the comma-separated ELEVENLABS_API_KEYS env var.
func APIKeys() []string {
	raw := os.Getenv("ELEVENLABS_API_KEYS")
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ProjectDir returns the root directory for a project.
func (c *Config) ProjectDir(project string) string {
	return filepath.Join(c.Paths.ProjectsRoot, project)
}

// BlueprintDir returns the blueprints directory for a project.
func (c *Config) BlueprintDir(project string) string {
	return filepath.Join(c.ProjectDir(project), "blueprints")
}

// AudioDir returns the synthesized-audio directory for a project.
func (c *Config) AudioDir(project string) string {
	return filepath.Join(c.ProjectDir(project), "audio")
}

// AssetDir returns the visual-assets directory for a project.
func (c *Config) AssetDir(project string) string {
	return filepath.Join(c.ProjectDir(project), "assets")
}

// OutputDir returns the rendered-output directory for a project.
func (c *Config) OutputDir(project string) string {
	return filepath.Join(c.ProjectDir(project), "output")
}

// EnsureProjectDirs creates the per-project directory scaffold.
func (c *Config) EnsureProjectDirs(project string) error {
	for _, dir := range []string{
		c.BlueprintDir(project),
		c.AudioDir(project),
		c.AssetDir(project),
		c.OutputDir(project),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}
