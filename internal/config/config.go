// Package config loads zmbrokerd's INI configuration file, per spec.md §6.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ini/ini"
)

// Config holds the daemon's startup configuration, derived from the INI
// sections spec.md §6 names plus the ambient listener/metrics settings the
// broker needs to actually run.
type Config struct {
	ConfigPath string

	// [DB]
	DBEngine string // "sqlite" | "postgres" | "mysql"
	DBDSN    string

	// [ZONEMASTER]
	ReuseWindow time.Duration // age_reuse_previous_test, seconds

	// LockOnQueue is the queue tag this broker instance considers
	// authoritative (lock_on_queue). start_domain_test and add_batch_job
	// use it as the queue a caller-supplied queue overrides; it is not a
	// hard restriction on claim_next, which still accepts an explicit
	// queue argument from whatever worker calls it.
	LockOnQueue int

	// [RPCAPI]
	EnableAddAPIUser  bool
	EnableAddBatchJob bool

	// [LANGUAGE]
	Locales []string // space-separated ll_CC.UTF-8 list

	// [PUBLIC_PROFILES] / [PRIVATE_PROFILES]
	PublicProfiles  map[string]string // name -> profile file path
	PrivateProfiles map[string]string

	// Ambient listener settings (outside spec.md §6's core table, but
	// required for the process to actually serve anything).
	RPCListen     string
	MetricsListen string
}

// DefaultConfig returns the broker's built-in defaults, matching spec §6
// (600s reuse window, queue 0, add_api_user and add_batch_job enabled).
func DefaultConfig() Config {
	return Config{
		ConfigPath:        "/etc/zmbrokerd/zmbrokerd.conf",
		DBEngine:          "sqlite",
		DBDSN:             "/var/lib/zmbrokerd/zmbroker.db",
		ReuseWindow:       600 * time.Second,
		LockOnQueue:       0,
		EnableAddAPIUser:  true,
		EnableAddBatchJob: true,
		Locales:           []string{"en_US.UTF-8"},
		PublicProfiles:    map[string]string{"default": ""},
		PrivateProfiles:   map[string]string{},
		RPCListen:         "127.0.0.1:5872",
		MetricsListen:     "",
	}
}

// Load reads the INI file at path and applies overrides to DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	file, err := ini.Load(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", cfg.ConfigPath, err)
	}

	if db := file.Section("DB"); db != nil {
		if v := db.Key("engine").String(); v != "" {
			cfg.DBEngine = strings.ToLower(v)
		}
		if v := db.Key("dsn").String(); v != "" {
			cfg.DBDSN = v
		}
	}
	if zm := file.Section("ZONEMASTER"); zm != nil {
		if v, err := zm.Key("age_reuse_previous_test").Int(); err == nil {
			cfg.ReuseWindow = time.Duration(v) * time.Second
		}
		if v, err := zm.Key("lock_on_queue").Int(); err == nil {
			cfg.LockOnQueue = v
		}
	}
	if rpcapi := file.Section("RPCAPI"); rpcapi != nil {
		if rpcapi.HasKey("enable_add_api_user") {
			cfg.EnableAddAPIUser = rpcapi.Key("enable_add_api_user").MustBool(cfg.EnableAddAPIUser)
		}
		if rpcapi.HasKey("enable_add_batch_job") {
			cfg.EnableAddBatchJob = rpcapi.Key("enable_add_batch_job").MustBool(cfg.EnableAddBatchJob)
		}
		if v := rpcapi.Key("listen").String(); v != "" {
			cfg.RPCListen = v
		}
		if v := rpcapi.Key("metrics_listen").String(); v != "" {
			cfg.MetricsListen = v
		}
	}
	if lang := file.Section("LANGUAGE"); lang != nil {
		if v := lang.Key("locale").String(); v != "" {
			cfg.Locales = strings.Fields(v)
		}
	}
	if pub, err := file.GetSection("PUBLIC_PROFILES"); err == nil {
		cfg.PublicProfiles = sectionToMap(pub)
	}
	if priv, err := file.GetSection("PRIVATE_PROFILES"); err == nil {
		cfg.PrivateProfiles = sectionToMap(priv)
	}
	if _, ok := cfg.PublicProfiles["default"]; !ok {
		cfg.PublicProfiles["default"] = ""
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func sectionToMap(section *ini.Section) map[string]string {
	out := make(map[string]string, len(section.Keys()))
	for _, key := range section.Keys() {
		out[strings.ToLower(key.Name())] = key.String()
	}
	return out
}

// Profiles returns the union of public and private profile names, the set
// start_domain_test's profile parameter is checked against (spec.md §4.1).
func (c Config) Profiles() map[string]struct{} {
	out := make(map[string]struct{}, len(c.PublicProfiles)+len(c.PrivateProfiles))
	for name := range c.PublicProfiles {
		out[name] = struct{}{}
	}
	for name := range c.PrivateProfiles {
		out[name] = struct{}{}
	}
	return out
}

// PublicProfileNames returns the sorted-by-caller-discretion list
// profile_names exposes (spec.md §6) — only public profiles are listed.
func (c Config) PublicProfileNames() []string {
	names := make([]string, 0, len(c.PublicProfiles))
	for name := range c.PublicProfiles {
		names = append(names, name)
	}
	return names
}

// LocaleSet returns the configured locales as a membership set, for
// LanguageTag validation and get_language_tags (spec.md §4.1/§6).
func (c Config) LocaleSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Locales))
	for _, l := range c.Locales {
		out[l] = struct{}{}
	}
	return out
}

// Validate performs basic sanity checks on the loaded configuration.
func (c Config) Validate() error {
	switch c.DBEngine {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: DB.engine must be one of sqlite|postgres|mysql, got %q", c.DBEngine)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("config: DB.dsn is required")
	}
	if c.ReuseWindow < 0 {
		return fmt.Errorf("config: ZONEMASTER.age_reuse_previous_test must be non-negative")
	}
	if len(c.Locales) == 0 {
		return fmt.Errorf("config: LANGUAGE.locale must list at least one locale")
	}
	if _, _, err := net.SplitHostPort(c.RPCListen); err != nil {
		return fmt.Errorf("config: RPCAPI.listen must be host:port: %w", err)
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("config: RPCAPI.metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("config: RPCAPI.metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
