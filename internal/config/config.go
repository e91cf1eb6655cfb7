// Package config loads accentd's TOML configuration and resolves the
// active locale's accent table through the inline/user/system/built-in
// fallback chain.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"accentd/internal/charmap"
)

// GeneralConfig holds the [general] section.
type GeneralConfig struct {
	ThresholdMs int64 `toml:"threshold_ms"`
	Enabled     bool  `toml:"enabled"`
}

// PopupConfig holds the [popup] section.
type PopupConfig struct {
	FontSize  int  `toml:"font_size"`
	TimeoutMs int64 `toml:"timeout_ms"`
	KeepOpen  bool `toml:"keep_open"`
}

// LocaleConfig holds the [locale] section: the active locale name and
// any inline locale tables defined under `[locale.<name>]`.
type LocaleConfig struct {
	Active  string                         `toml:"active"`
	Locales map[string]charmap.LocaleMap   `toml:"-"`
}

// Config is accentd's full configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	Popup   PopupConfig   `toml:"popup"`
	Locale  LocaleConfig  `toml:"locale"`
}

// Default returns accentd's default configuration, matching the Rust
// original's defaults exactly.
func Default() *Config {
	return &Config{
		General: GeneralConfig{ThresholdMs: 300, Enabled: true},
		Popup:   PopupConfig{FontSize: 24, TimeoutMs: 5000, KeepOpen: true},
		Locale:  LocaleConfig{Active: "it", Locales: map[string]charmap.LocaleMap{}},
	}
}

// ConfigDir returns the XDG-compliant config directory for accentd:
// $XDG_CONFIG_HOME/accentd, falling back to ~/.config/accentd, and to
// /etc/accentd if the home directory cannot be resolved at all.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("/etc", "accentd")
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "accentd")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads config.toml if present, otherwise returns Default() without
// writing anything: accentd runs as a system daemon and should not
// assume it can write to the config directory on every startup.
func Load() (*Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads and parses a specific config file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Locale.Locales = decodeInlineLocales(meta, path)
	return cfg, nil
}

// decodeInlineLocales re-decodes the raw TOML to recover any
// `[locale.<name>]` tables BurntSushi/toml's primary decode pass leaves
// as untyped data on Config.Locale (which otherwise only carries
// `active`). Unknown keys under [locale] are treated as locale names.
func decodeInlineLocales(meta toml.MetaData, path string) map[string]charmap.LocaleMap {
	var raw struct {
		Locale map[string]toml.Primitive `toml:"locale"`
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return map[string]charmap.LocaleMap{}
	}
	out := map[string]charmap.LocaleMap{}
	for key, prim := range raw.Locale {
		if key == "active" {
			continue
		}
		var table charmap.LocaleMap
		if err := meta.PrimitiveDecode(prim, &table); err == nil {
			out[key] = table
		}
	}
	return out
}

// Save writes cfg to ConfigPath, creating the directory if needed.
func Save(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir %s: %w", dir, err)
	}
	f, err := os.Create(ConfigPath())
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// LoadLocaleMap resolves the active locale's accent table through the
// fallback chain: inline config table → per-user locale file →
// system-wide locale file → built-in table. The first locale file found
// is used as is. Returns an error when that file cannot be parsed, or
// when none of the four sources has anything for the active locale.
func (c *Config) LoadLocaleMap() (charmap.LocaleMap, error) {
	if m, ok := c.Locale.Locales[c.Locale.Active]; ok && len(m) > 0 {
		return m, nil
	}

	candidates := []string{
		filepath.Join(ConfigDir(), "locales", c.Locale.Active+".toml"),
		filepath.Join("/usr/share/accentd/locales", c.Locale.Active+".toml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var m charmap.LocaleMap
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return nil, fmt.Errorf("parsing locale file %s: %w", path, err)
		}
		return m, nil
	}

	builtin := charmap.BuiltinLocale(c.Locale.Active)
	if len(builtin) > 0 {
		return builtin, nil
	}

	return nil, fmt.Errorf("locale %q not found", c.Locale.Active)
}

// SocketPath returns the Unix socket path the daemon binds and clients
// connect to: $ACCENTD_SOCK if set, else /run/accentd/accentd.sock.
func SocketPath() string {
	if path := os.Getenv("ACCENTD_SOCK"); path != "" {
		return path
	}
	return "/run/accentd/accentd.sock"
}
