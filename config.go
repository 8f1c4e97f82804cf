package vkframe

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/andewx/vkframe/hal"
)

// Config is read once at startup. There is no live reconfiguration.
type Config struct {
	Debug          bool       `toml:"debug" yaml:"debug"`
	Title          string     `toml:"title" yaml:"title"`
	Width          int        `toml:"width" yaml:"width"`
	Height         int        `toml:"height" yaml:"height"`
	APIVersion     string     `toml:"api_version" yaml:"api_version"`
	FramesInFlight int        `toml:"frames_in_flight" yaml:"frames_in_flight"`
	ImageCount     int        `toml:"image_count" yaml:"image_count"`
	PresentMode    string     `toml:"present_mode" yaml:"present_mode"`
	ColorFormat    string     `toml:"color_format" yaml:"color_format"`
	FenceTimeout   Duration   `toml:"fence_timeout" yaml:"fence_timeout"`
	AcquireTimeout Duration   `toml:"acquire_timeout" yaml:"acquire_timeout"`
	ClearColor     [4]float32 `toml:"clear_color" yaml:"clear_color"`
	Backend        string     `toml:"backend" yaml:"backend"`

	Shaders  ShaderConfig  `toml:"shaders" yaml:"shaders"`
	Textures TextureConfig `toml:"textures" yaml:"textures"`
}

type ShaderConfig struct {
	Vertex   string `toml:"vertex" yaml:"vertex"`
	Fragment string `toml:"fragment" yaml:"fragment"`
}

type TextureConfig struct {
	Paths []string `toml:"paths" yaml:"paths"`
}

// Duration is a time.Duration written as a string such as "2s" in config
// files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Title:          "vkframe",
		Width:          1600,
		Height:         900,
		APIVersion:     "1.0",
		FramesInFlight: 2,
		ImageCount:     2,
		PresentMode:    hal.PresentModeImmediate.String(),
		ColorFormat:    hal.FormatB8G8R8A8Unorm.String(),
		FenceTimeout:   Duration(2 * time.Second),
		AcquireTimeout: Duration(2 * time.Second),
		ClearColor:     [4]float32{0, 0, 0, 1},
		Backend:        "vulkan",
		Shaders: ShaderConfig{
			Vertex:   "shaders/vert.spv",
			Fragment: "shaders/frag.spv",
		},
	}
}

// decoder is implemented by the toml and yaml decoders.
type decoder interface {
	Decode(v any) error
}

type decoderFunc func(r io.Reader) decoder

func tomlDecoder(r io.Reader) decoder {
	d := toml.NewDecoder(r)
	d.DisallowUnknownFields()
	return d
}

func yamlDecoder(r io.Reader) decoder {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	return d
}

// LoadConfig reads the file at path on top of DefaultConfig. The decoder is
// chosen by extension: .toml, .yaml or .yml. A leading ~ is expanded.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	path, err := homedir.Expand(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config path")
	}
	var dec decoderFunc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec = tomlDecoder
	case ".yaml", ".yml":
		dec = yamlDecoder
	default:
		return cfg, errors.Errorf("config %s: unknown format, want .toml or .yaml", path)
	}
	fp, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "open config")
	}
	defer fp.Close()
	if err := dec(bufio.NewReader(fp)).Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) expandPaths() error {
	var err error
	if c.Shaders.Vertex, err = homedir.Expand(c.Shaders.Vertex); err != nil {
		return errors.Wrap(err, "vertex shader path")
	}
	if c.Shaders.Fragment, err = homedir.Expand(c.Shaders.Fragment); err != nil {
		return errors.Wrap(err, "fragment shader path")
	}
	for i, p := range c.Textures.Paths {
		if c.Textures.Paths[i], err = homedir.Expand(p); err != nil {
			return errors.Wrapf(err, "texture path %s", p)
		}
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return errors.Errorf("config: window size %dx%d", c.Width, c.Height)
	case c.FramesInFlight < 1:
		return errors.Errorf("config: frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	case c.ImageCount < 1:
		return errors.Errorf("config: image_count must be at least 1, got %d", c.ImageCount)
	case c.FenceTimeout <= 0 || c.AcquireTimeout <= 0:
		return errors.New("config: timeouts must be positive")
	}
	if _, ok := hal.ParsePresentMode(c.PresentMode); !ok {
		return errors.Errorf("config: unknown present mode %q", c.PresentMode)
	}
	if f, ok := hal.ParseFormat(c.ColorFormat); !ok || f == hal.FormatUndefined || f.IsDepth() {
		return errors.Errorf("config: unusable color format %q", c.ColorFormat)
	}
	if _, _, err := c.Version(); err != nil {
		return err
	}
	switch c.Backend {
	case "vulkan", "soft":
	default:
		return errors.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

// Version parses APIVersion as "major.minor".
func (c Config) Version() (major, minor uint32, err error) {
	parts := strings.SplitN(c.APIVersion, ".", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("config: api_version %q is not major.minor", c.APIVersion)
	}
	maj, err1 := strconv.ParseUint(parts[0], 10, 32)
	mnr, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, errors.Errorf("config: api_version %q is not major.minor", c.APIVersion)
	}
	return uint32(maj), uint32(mnr), nil
}

func (c Config) presentMode() hal.PresentMode {
	m, _ := hal.ParsePresentMode(c.PresentMode)
	return m
}

func (c Config) colorFormat() hal.Format {
	f, _ := hal.ParseFormat(c.ColorFormat)
	return f
}
