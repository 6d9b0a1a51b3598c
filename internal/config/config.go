// Package config loads solaretp settings from an optional YAML file.
// Command-line flags and environment variables are applied on top by the
// caller through Merge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lox/solaretp/internal/httputil"
	"github.com/lox/solaretp/internal/ingest"
)

const (
	SourcePower   = "power"
	SourceArchive = "archive"
)

type Config struct {
	UserAgent string          `yaml:"user_agent"`
	Listen    string          `yaml:"listen"`
	AuditDB   string          `yaml:"audit_db"`
	Radiation RadiationConfig `yaml:"radiation"`
	Weather   WeatherConfig   `yaml:"weather"`
}

type RadiationConfig struct {
	Source   string        `yaml:"source"`
	PowerURL string        `yaml:"power_url"`
	Archive  ArchiveConfig `yaml:"archive"`
}

type ArchiveConfig struct {
	Addr         string        `yaml:"addr"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	PathTemplate string        `yaml:"path_template"`
	Timeout      time.Duration `yaml:"timeout"`
}

type WeatherConfig struct {
	NWSURL       string `yaml:"nws_url"`
	NominatimURL string `yaml:"nominatim_url"`
}

func Default() Config {
	return Config{
		UserAgent: httputil.DefaultUserAgent,
		Listen:    ":8080",
		Radiation: RadiationConfig{
			Source:   SourcePower,
			PowerURL: ingest.DefaultPowerURL,
			Archive:  ArchiveConfig{Timeout: 30 * time.Second},
		},
		Weather: WeatherConfig{
			NWSURL:       ingest.DefaultNWSURL,
			NominatimURL: ingest.DefaultNominatimURL,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. The result is not validated: call Validate
// after Merge so flag and environment overrides can complete the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Overrides carries values from flags and the environment. Empty fields
// leave the loaded value alone.
type Overrides struct {
	UserAgent       string
	Listen          string
	AuditDB         string
	RadiationSource string
	PowerURL        string
	ArchiveAddr     string
	ArchivePath     string
	NWSURL          string
	NominatimURL    string
}

func (c *Config) Merge(o Overrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.UserAgent, o.UserAgent)
	set(&c.Listen, o.Listen)
	set(&c.AuditDB, o.AuditDB)
	set(&c.Radiation.Source, o.RadiationSource)
	set(&c.Radiation.PowerURL, o.PowerURL)
	set(&c.Radiation.Archive.Addr, o.ArchiveAddr)
	set(&c.Radiation.Archive.PathTemplate, o.ArchivePath)
	set(&c.Weather.NWSURL, o.NWSURL)
	set(&c.Weather.NominatimURL, o.NominatimURL)
}

func (c Config) Validate() error {
	switch c.Radiation.Source {
	case SourcePower:
	case SourceArchive:
		if c.Radiation.Archive.Addr == "" {
			return fmt.Errorf("radiation.archive.addr is required for the archive source")
		}
		if !strings.Contains(c.Radiation.Archive.PathTemplate, "{lat}") ||
			!strings.Contains(c.Radiation.Archive.PathTemplate, "{lon}") {
			return fmt.Errorf("radiation.archive.path_template must contain {lat} and {lon}")
		}
	default:
		return fmt.Errorf("unknown radiation source %q", c.Radiation.Source)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must not be empty")
	}
	return nil
}
