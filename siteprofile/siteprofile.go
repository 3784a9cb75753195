// Package siteprofile holds the static table of supported sites. A Profile
// describes what a session snapshot must contain to be usable for a site:
// required cookie names and required localStorage/sessionStorage keys.
//
// Profiles are data, not code. Adding a site is a table entry (built-in or
// YAML), never a new branch in the engine.
package siteprofile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile identifies one supported site and its minimum-viable-session rules.
// Immutable after registry construction.
type Profile struct {
	// Key is the short site identity used throughout the engine ("maang").
	Key string `yaml:"key" json:"key"`

	// PrimaryHost anchors host matching: a hostname matches when it equals
	// PrimaryHost or ends with "." + PrimaryHost.
	PrimaryHost string `yaml:"primary_host" json:"primaryHost"`

	// HostPatterns are the browser-level URL match patterns for this site,
	// used when enumerating tabs ("*://*.maang.in/*").
	HostPatterns []string `yaml:"host_patterns" json:"hostPatterns"`

	// RequiredCookies must all be present with non-empty values.
	RequiredCookies []string `yaml:"required_cookies" json:"requiredCookieNames"`

	// RequiredLocal / RequiredSession storage keys must all be defined.
	RequiredLocal   []string `yaml:"required_local_storage" json:"requiredLocalStorageKeys"`
	RequiredSession []string `yaml:"required_session_storage" json:"requiredSessionStorageKeys"`
}

// Matches reports whether hostname belongs to this profile's site.
func (p *Profile) Matches(hostname string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	return h == p.PrimaryHost || strings.HasSuffix(h, "."+p.PrimaryHost)
}

// URL returns the canonical https URL for the site's primary host.
func (p *Profile) URL() string {
	return "https://" + p.PrimaryHost
}

// RequiresCookie reports whether name is one of the profile's required cookies.
func (p *Profile) RequiresCookie(name string) bool {
	return contains(p.RequiredCookies, name)
}

// RequiresStorageKey reports whether key is required in the given storage
// area ("localStorage" or "sessionStorage").
func (p *Profile) RequiresStorageKey(area, key string) bool {
	switch area {
	case "localStorage":
		return contains(p.RequiredLocal, key)
	case "sessionStorage":
		return contains(p.RequiredSession, key)
	}
	return false
}

func (p *Profile) validate() error {
	if p.Key == "" {
		return fmt.Errorf("siteprofile: profile without key")
	}
	if p.PrimaryHost == "" {
		return fmt.Errorf("siteprofile: profile %q without primary_host", p.Key)
	}
	if strings.HasPrefix(p.PrimaryHost, ".") {
		return fmt.Errorf("siteprofile: profile %q: primary_host must not start with a dot", p.Key)
	}
	if len(p.RequiredCookies)+len(p.RequiredLocal)+len(p.RequiredSession) == 0 {
		return fmt.Errorf("siteprofile: profile %q requires no fields at all", p.Key)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LoadFile reads additional profiles from a YAML file. The file holds a
// top-level "sites" list of Profile entries.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("siteprofile: read %s: %w", path, err)
	}

	var doc struct {
		Sites []Profile `yaml:"sites"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("siteprofile: parse %s: %w", path, err)
	}
	return doc.Sites, nil
}
