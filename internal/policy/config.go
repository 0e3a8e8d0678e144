package policy

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aegis-agent/aegis/internal/ratelimit"
)

// ZoneConfig is one filesystem zone's rules.
type ZoneConfig struct {
	Path    string `yaml:"path"`
	Read    string `yaml:"read"`
	Write   string `yaml:"write"`
	Execute string `yaml:"execute"`
}

// ExternalConfig governs network egress.
type ExternalConfig struct {
	HTTPGet           string   `yaml:"http_get"`
	HTTPPost          string   `yaml:"http_post"`
	HTTPPut           string   `yaml:"http_put"`
	HTTPDelete        string   `yaml:"http_delete"`
	DeniedURLPatterns []string `yaml:"denied_url_patterns"`
}

// Config is the hot-reloadable policy document.
type Config struct {
	Zones           map[string]ZoneConfig      `yaml:"zones"`
	RateLimits      map[string]ratelimit.Limit `yaml:"rate_limits"`
	ExternalAccess  ExternalConfig             `yaml:"external_access"`
	RefusalPatterns []string                   `yaml:"refusal_patterns"`
}

// compiled is a parsed and validated policy document. It is built once per
// load and swapped atomically into the engine, so readers never see a torn
// mix of old and new rules.
type compiled struct {
	config    Config
	zonePaths []zonePath          // sorted longest-first
	deniedURL []*regexp.Regexp    // compiled ExternalAccess.DeniedURLPatterns
	refusal   []*regexp.Regexp    // compiled RefusalPatterns, nil when unset
}

type zonePath struct {
	path string
	zone Zone
}

// zoneNames maps document keys to zones. Only filesystem zones appear in
// the document; external and unknown are implicit.
var zoneNames = map[string]Zone{
	"sandbox":  ZoneSandbox,
	"identity": ZoneIdentity,
	"system":   ZoneSystem,
}

// loadConfig reads, parses, and compiles the policy document. Any failure
// returns an error and no partial state; callers keep whatever compiled
// policy they already hold.
func loadConfig(path string) (*compiled, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy config: %w", err)
	}

	c := &compiled{config: cfg}

	for name, zone := range zoneNames {
		zc, ok := cfg.Zones[name]
		if !ok || zc.Path == "" {
			continue
		}
		c.zonePaths = append(c.zonePaths, zonePath{path: realPath(zc.Path), zone: zone})
	}
	// Longest path first so /app/subdir matches before /app.
	sort.Slice(c.zonePaths, func(i, j int) bool {
		return len(c.zonePaths[i].path) > len(c.zonePaths[j].path)
	})

	for _, pat := range cfg.ExternalAccess.DeniedURLPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("compile denied url pattern %q: %w", pat, err)
		}
		c.deniedURL = append(c.deniedURL, re)
	}

	for _, pat := range cfg.RefusalPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("compile refusal pattern %q: %w", pat, err)
		}
		c.refusal = append(c.refusal, re)
	}

	return c, nil
}
