// Package translate is the boundary adapter to the (external) translation
// catalog, C6 in spec.md. It also implements the legacy message-rewriting
// rules spec.md §4.5/§9 requires on the get_test_results path, and the
// scoped process-wide locale guard spec.md §4.6/§5 mandates.
package translate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zonemaster/broker/internal/models"
)

// Catalog is the minimal stand-in for the external translation catalog:
// given a {module, tag} key and a locale, it returns the localized message
// template. Real deployments wire this to the engine's message catalog; the
// broker only needs the interface (Translate) and the legacy rewrite rules
// below, so a small built-in table covers the messages the spec names
// explicitly and falls back to the untranslated tag for everything else.
type Catalog struct {
	mu       sync.Mutex
	locale   string
	messages map[string]map[string]string // locale -> "module/tag" -> template
}

// NewCatalog builds a Catalog seeded with the fixed system messages that
// participate in the legacy rewrite rules (spec.md §4.5), plus English
// fallbacks for common tags.
func NewCatalog() *Catalog {
	return &Catalog{
		messages: map[string]map[string]string{
			"en_US.UTF-8": {
				"SYSTEM/POLICY_DISABLED":     "Test of {name} disabled by policy.json",
				"SYSTEM/CONFIG_LOADED":       "Loaded configuration from config.json",
				"NAMESERVER/NS_NOT_RESPOND":  "Nameserver {ns} did not respond",
			},
		},
	}
}

// WithLocale runs fn with the process-wide locale temporarily set to
// locale, restoring the prior value on every exit path (including panics),
// per spec.md §4.6/§5/§9: "serialize get_test_results calls through a mutex
// for the duration of the translation". A failure to set the locale (an
// unknown/unsupported locale string) is a hard error for the call.
func (c *Catalog) WithLocale(locale string, supported map[string]struct{}, fn func() error) error {
	if _, ok := supported[locale]; !ok {
		return fmt.Errorf("translate: locale %q is not configured", locale)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.locale
	c.locale = locale
	defer func() { c.locale = prev }()
	return fn()
}

// Translate renders one result entry's message under the locale most
// recently set by WithLocale. Caller must hold a WithLocale scope; Translate
// panics if called outside one, since translating without a committed
// locale would silently use a stale value.
func (c *Catalog) Translate(entry models.ResultEntry) string {
	if c.locale == "" {
		panic("translate: Translate called outside WithLocale")
	}
	key := entry.Module + "/" + entry.Tag
	if byLocale, ok := c.messages[c.locale]; ok {
		if tmpl, ok := byLocale[key]; ok {
			return renderTemplate(tmpl, entry.Args)
		}
	}
	if byLocale, ok := c.messages["en_US.UTF-8"]; ok {
		if tmpl, ok := byLocale[key]; ok {
			return renderTemplate(tmpl, entry.Args)
		}
	}
	// Untranslated source form fallback, per spec.md §4.1's rule for an
	// invalid/unknown language: fall back to the untranslated source form.
	return key
}

func renderTemplate(tmpl string, args map[string]string) string {
	out := tmpl
	for k, v := range args {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// RewritePolicyPaths replaces any occurrence of "policy.json" or
// "config.json" in an already-translated message with a fixed human label,
// per spec.md §4.5's legacy rewrite rules.
func RewritePolicyPaths(message string) string {
	message = strings.ReplaceAll(message, "policy.json", "the Zonemaster policy file")
	message = strings.ReplaceAll(message, "config.json", "the Zonemaster configuration file")
	return message
}

// DropPolicyDisabledExample reports whether a result entry is the specific
// legacy noise entry get_test_results must drop entirely: module SYSTEM,
// tag POLICY_DISABLED, arg "name" == "Example".
func DropPolicyDisabledExample(entry models.ResultEntry) bool {
	return entry.Module == "SYSTEM" && entry.Tag == "POLICY_DISABLED" && entry.Args["name"] == "Example"
}
