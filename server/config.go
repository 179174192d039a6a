package server

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/volview/labels"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/volview"
)

const (
	// DefaultWebAddress is the default address of the volview web server.
	DefaultWebAddress = "localhost:5008"

	// DefaultShutdownDelay is the number of seconds in-flight requests get
	// to finish after a shutdown is requested.
	DefaultShutdownDelay = 5
)

// Config is the parsed TOML configuration of a server.
type Config struct {
	Server  serverConfig
	Cache   cacheConfig
	Render  renderConfig
	Roster  rosterConfig
	Labels  labelsConfig
	Logging volview.LogConfig
}

type serverConfig struct {
	HTTPAddress   string   `toml:"httpAddress"`
	WebClient     string   `toml:"webClient"`
	DataRoot      string   `toml:"dataRoot"`
	Metrics       bool     `toml:"metrics"`
	CorsDomains   []string `toml:"corsDomains"`
	ShutdownDelay int      `toml:"shutdownDelay"` // seconds
}

type cacheConfig struct {
	Volumes int `toml:"volumes"`
	Slices  int `toml:"slices"`
}

type renderConfig struct {
	AllowDownsample bool   `toml:"allowDownsample"`
	Resample        string `toml:"resample"`
	DefaultWindow   string `toml:"defaultWindow"`
	FlipRows        bool   `toml:"flipRows"`
}

type rosterConfig struct {
	File string `toml:"file"`
}

type labelsConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// DefaultConfig returns the configuration used for settings absent from
// the TOML file.
func DefaultConfig() *Config {
	return &Config{
		Server: serverConfig{
			HTTPAddress:   DefaultWebAddress,
			ShutdownDelay: DefaultShutdownDelay,
		},
		Cache: cacheConfig{
			Volumes: render.DefaultVolumeCacheSize,
			Slices:  render.DefaultSliceCacheSize,
		},
		Labels: labelsConfig{
			Backend: "json",
			Path:    "labels/labels.json",
		},
	}
}

// LoadConfig reads a TOML configuration file on top of the defaults.
// Relative paths in the file are taken relative to the file's directory.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := DefaultConfig()
	md, err := toml.DecodeFile(filename, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		volview.Warningf("Ignoring unknown settings in %s: %v\n", filename, undecoded)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	settings := []struct {
		name string
		path *string
	}{
		{"server.webClient", &c.Server.WebClient},
		{"server.dataRoot", &c.Server.DataRoot},
		{"roster.file", &c.Roster.File},
		{"labels.path", &c.Labels.Path},
		{"logging.logfile", &c.Logging.Logfile},
	}
	for _, s := range settings {
		abs, err := volview.ConvertToAbsolute(*s.path, configDir)
		if err != nil {
			return fmt.Errorf("error converting %s setting %q to absolute path", s.name, *s.path)
		}
		*s.path = abs
	}
	return nil
}

// RenderConfig returns the rendering service settings.
func (c *Config) RenderConfig() (render.Config, error) {
	resample, err := render.ParseResample(c.Render.Resample)
	if err != nil {
		return render.Config{}, err
	}
	window, err := render.ParseWindowMode(c.Render.DefaultWindow)
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{
		VolumeCacheSize: c.Cache.Volumes,
		SliceCacheSize:  c.Cache.Slices,
		AllowDownsample: c.Render.AllowDownsample,
		Resample:        resample,
		DefaultWindow:   window,
		FlipRows:        c.Render.FlipRows,
	}, nil
}

// LabelsConfig returns the label store settings.
func (c *Config) LabelsConfig() labels.Config {
	return labels.Config{Backend: c.Labels.Backend, Path: c.Labels.Path}
}
