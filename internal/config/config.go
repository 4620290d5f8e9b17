package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDownloadBaseURL serves the preset model files.
const DefaultDownloadBaseURL = "https://modelscope.cn/api/v1/models/Tohrusky/z-image-turbo-ncnn/repo?Revision=master&FilePath="

// ProjectFile is looked up in the current working directory.
const ProjectFile = ".finaldream.yaml"

// Config holds all configurable FinalDream settings.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	// ModelDir defaults to the models directory next to the core executable.
	ModelDir string `yaml:"model_dir"`
	CorePath string `yaml:"core_path"` // override auto-detect
	Model    string `yaml:"model"`

	Debounce time.Duration `yaml:"debounce"`
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Steps  int `yaml:"steps"` // 0 = auto
	// Seed and GPU use -1 for random and auto, so unset is nil.
	Seed  *int `yaml:"seed"`
	GPU   *int `yaml:"gpu"`
	Count int  `yaml:"count"`

	DownloadBaseURL string `yaml:"download_base_url"`
	ListenAddr      string `yaml:"listen_addr"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		OutputDir:       ".",
		Model:           "z-image-turbo",
		Debounce:        100 * time.Millisecond,
		LogLevel:        "info",
		Width:           1024,
		Height:          1024,
		Seed:            intPtr(-1),
		GPU:             intPtr(-1),
		Count:           1,
		DownloadBaseURL: DefaultDownloadBaseURL,
		ListenAddr:      "127.0.0.1:7860",
	}
}

func intPtr(v int) *int { return &v }

// SeedValue returns Seed, or -1 when unset.
func (c Config) SeedValue() int {
	if c.Seed == nil {
		return -1
	}
	return *c.Seed
}

// GPUValue returns GPU, or -1 when unset.
func (c Config) GPUValue() int {
	if c.GPU == nil {
		return -1
	}
	return *c.GPU
}

// GlobalPath returns ~/.config/finaldream/config.yaml.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "finaldream", "config.yaml"), nil
}

// LoadGlobal reads ~/.config/finaldream/config.yaml.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .finaldream.yaml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// Load merges defaults, base, the global file and the project file.
func Load(base ...*Config) (Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return Defaults(), err
	}
	// An absent global file must not reset base values to defaults.
	global, err := loadFile(path, false)
	if err != nil {
		return Defaults(), err
	}
	project, err := LoadProject()
	if err != nil {
		return Defaults(), err
	}
	return MergeLayers(append(base, global, project)...), nil
}

// loadFile reads and parses a YAML config file at path. JSON files parse too.
// When the file is absent it returns defaults if returnDefaults is set, nil
// otherwise.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	return MergeLayers(global, project)
}

// MergeLayers applies each non-nil layer over the defaults, later layers
// winning. Unset fields in a layer leave earlier values alone.
func MergeLayers(layers ...*Config) Config {
	result := Defaults()
	for _, l := range layers {
		overlay(&result, l)
	}
	return result
}

func overlay(dst, src *Config) {
	if src == nil {
		return
	}
	setString(&dst.OutputDir, src.OutputDir)
	setString(&dst.ModelDir, src.ModelDir)
	setString(&dst.CorePath, src.CorePath)
	setString(&dst.Model, src.Model)
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.LogFile, src.LogFile)
	setString(&dst.DownloadBaseURL, src.DownloadBaseURL)
	setString(&dst.ListenAddr, src.ListenAddr)

	if src.Debounce > 0 {
		dst.Debounce = src.Debounce
	}
	setPositive(&dst.Width, src.Width)
	setPositive(&dst.Height, src.Height)
	setPositive(&dst.Steps, src.Steps)
	setPositive(&dst.Count, src.Count)
	if src.Seed != nil {
		dst.Seed = intPtr(*src.Seed)
	}
	if src.GPU != nil {
		dst.GPU = intPtr(*src.GPU)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
