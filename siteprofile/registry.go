package siteprofile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrOverlap is returned when two profiles claim overlapping host suffixes.
// This is a startup-fatal configuration error, never a runtime condition.
var ErrOverlap = errors.New("siteprofile: overlapping host suffixes")

// Registry resolves hostnames to site profiles. Built once at process start,
// read-only afterwards.
type Registry struct {
	profiles []Profile
	byKey    map[string]*Profile
}

// NewRegistry builds a registry from the given profiles. Construction fails
// when a profile is malformed, when two profiles claim overlapping host
// suffixes, or when a primary host is a bare public suffix (which would make
// suffix matching claim an entire TLD).
func NewRegistry(profiles []Profile) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Profile, len(profiles))}

	for _, p := range profiles {
		p.PrimaryHost = strings.ToLower(p.PrimaryHost)
		if err := p.validate(); err != nil {
			return nil, err
		}
		if suffix, _ := publicsuffix.PublicSuffix(p.PrimaryHost); suffix == p.PrimaryHost {
			return nil, fmt.Errorf("siteprofile: profile %q: primary_host %q is a public suffix", p.Key, p.PrimaryHost)
		}
		if _, dup := r.byKey[p.Key]; dup {
			return nil, fmt.Errorf("siteprofile: duplicate profile key %q", p.Key)
		}
		r.profiles = append(r.profiles, p)
	}

	for i := range r.profiles {
		r.byKey[r.profiles[i].Key] = &r.profiles[i]
	}

	// Reject overlapping suffixes: if one primary host matches another
	// profile's rule, every hostname of the narrower site would resolve
	// ambiguously.
	for i := range r.profiles {
		for j := range r.profiles {
			if i == j {
				continue
			}
			if r.profiles[j].Matches(r.profiles[i].PrimaryHost) {
				return nil, fmt.Errorf("%w: %q and %q", ErrOverlap,
					r.profiles[i].PrimaryHost, r.profiles[j].PrimaryHost)
			}
		}
	}

	return r, nil
}

// Resolve returns the profile owning hostname, or nil when no profile claims
// it. Matching is by host suffix against each profile's primary host.
func (r *Registry) Resolve(hostname string) *Profile {
	for i := range r.profiles {
		if r.profiles[i].Matches(hostname) {
			return &r.profiles[i]
		}
	}
	return nil
}

// ByKey returns the profile with the given site key, or nil.
func (r *Registry) ByKey(key string) *Profile {
	return r.byKey[key]
}

// Keys returns all site keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Profiles returns the registered profiles.
func (r *Registry) Profiles() []Profile {
	return r.profiles
}
