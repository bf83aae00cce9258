package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Category describes one auction tier: the minimum opening bid and, for the
// single capped tier, the per-team acquisition limit.
type Category struct {
	Name  string `yaml:"name"`
	Floor int    `yaml:"floor"`
	Cap   int    `yaml:"cap,omitempty"`
}

type Config struct {
	ListenAddr       string     `yaml:"listen_addr"`
	DatabasePath     string     `yaml:"database_path"`
	CountdownSeconds int        `yaml:"countdown_seconds"`
	Categories       []Category `yaml:"categories"`
}

// Load reads the auction config from path, falling back to defaults when the
// path is empty. The file only needs to mention the keys it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("auction config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("auction config: %w", err)
	}
	return cfg, nil
}

func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		DatabasePath:     "data/auction.db",
		CountdownSeconds: 60,
		Categories: []Category{
			{Name: "A", Floor: 30, Cap: 2},
			{Name: "B", Floor: 15},
			{Name: "C", Floor: 5},
		},
	}
}

// Normalize trims and upper-cases category names so lookups match however the
// file spells them.
func (c *Config) Normalize() {
	for i := range c.Categories {
		c.Categories[i].Name = strings.ToUpper(strings.TrimSpace(c.Categories[i].Name))
	}
	if c.ListenAddr == "" {
		c.ListenAddr = Default().ListenAddr
	}
}

func (c Config) Validate() error {
	if c.CountdownSeconds <= 0 {
		return fmt.Errorf("countdown_seconds must be positive, got %d", c.CountdownSeconds)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	seen := map[string]bool{}
	capped := 0
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category with empty name")
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category %s", cat.Name)
		}
		seen[cat.Name] = true
		if cat.Floor <= 0 {
			return fmt.Errorf("category %s: floor must be positive, got %d", cat.Name, cat.Floor)
		}
		if cat.Cap < 0 {
			return fmt.Errorf("category %s: cap cannot be negative", cat.Name)
		}
		if cat.Cap > 0 {
			capped++
		}
	}
	if capped != 1 {
		return fmt.Errorf("exactly one category must carry an acquisition cap, got %d", capped)
	}
	return nil
}

// Countdown is how long an uncontested leading bid stays open before the
// automatic sale fires.
func (c Config) Countdown() time.Duration {
	return time.Duration(c.CountdownSeconds) * time.Second
}

// Category looks up a tier by name, case-insensitively.
func (c Config) Category(name string) (Category, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}
