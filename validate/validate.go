// CLAUDE:SUMMARY Snapshot validation: structural completeness against a site
// profile, exact duplicate detection, and policy-driven field filtering.

// Package validate judges snapshots. It never touches a browser or the
// store; every check is a pure function over snapshot data.
package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ravi-ivar-7/choco-sub000/session"
	"github.com/ravi-ivar-7/choco-sub000/siteprofile"
)

// StructureResult reports structural completeness of a snapshot for a site.
type StructureResult struct {
	OK bool
	// Missing names the absent requirements, qualified by area
	// ("cookie:access_token", "localStorage:user_id").
	Missing []string
	// Reduced is the snapshot cut down to the site's required fields plus
	// all scalar and opaque signals. Set only when OK; this reduced form
	// is what gets persisted.
	Reduced *session.Snapshot
}

// Structure checks that every required cookie carries a non-empty value and
// every required storage key is defined. Cookie expiry is deliberately not
// considered here; liveness is a separate, time-dependent predicate.
func Structure(s *session.Snapshot, p *siteprofile.Profile) StructureResult {
	var missing []string
	for _, name := range p.RequiredCookies {
		if ck, ok := s.Cookies[name]; !ok || ck.Value == "" {
			missing = append(missing, "cookie:"+name)
		}
	}
	for _, key := range p.RequiredLocal {
		if _, ok := s.LocalStorage[key]; !ok {
			missing = append(missing, "localStorage:"+key)
		}
	}
	for _, key := range p.RequiredSession {
		if _, ok := s.SessionStorage[key]; !ok {
			missing = append(missing, "sessionStorage:"+key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return StructureResult{Missing: missing}
	}
	return StructureResult{OK: true, Reduced: reduce(s, p)}
}

// reduce keeps only required cookies and storage keys. Scalar and opaque
// signals pass through untouched; reducing an already reduced snapshot is a
// no-op.
func reduce(s *session.Snapshot, p *siteprofile.Profile) *session.Snapshot {
	out := *s
	out.Cookies = make(map[string]session.CookieRecord, len(p.RequiredCookies))
	for _, name := range p.RequiredCookies {
		out.Cookies[name] = s.Cookies[name]
	}
	out.LocalStorage = pick(s.LocalStorage, p.RequiredLocal)
	out.SessionStorage = pick(s.SessionStorage, p.RequiredSession)
	return &out
}

func pick(in map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}

// MatchResult reports an exact-duplicate comparison.
type MatchResult struct {
	OK bool
	// Mismatched lists the field names that differ.
	Mismatched []string
}

// comparedFields is the fixed set match compares, in report order.
var comparedFields = []string{
	"cookies", "localStorage", "sessionStorage",
	"fingerprint", "geoLocation",
	"ipAddress", "userAgent", "platform", "browser",
}

// Match decides whether two snapshots are exact duplicates. Every compared
// field must be structurally equal; a single differing cookie value means
// "not a duplicate", never "partially equal". Comparison is symmetric.
func Match(a, b *session.Snapshot) MatchResult {
	var mismatched []string
	for _, field := range comparedFields {
		if canonicalField(a, field) != canonicalField(b, field) {
			mismatched = append(mismatched, field)
		}
	}
	return MatchResult{OK: len(mismatched) == 0, Mismatched: mismatched}
}

// canonicalField renders one field as deterministic JSON. Nil maps collapse
// to empty objects so an absent field and an empty one compare equal.
func canonicalField(s *session.Snapshot, field string) string {
	var v any
	switch field {
	case "cookies":
		v = orEmptyCookies(s.Cookies)
	case "localStorage":
		v = orEmptyStrings(s.LocalStorage)
	case "sessionStorage":
		v = orEmptyStrings(s.SessionStorage)
	case "fingerprint":
		v = orEmptyAny(s.Fingerprint)
	case "geoLocation":
		v = orEmptyAny(s.GeoLocation)
	case "ipAddress":
		v = s.IPAddress
	case "userAgent":
		v = s.UserAgent
	case "platform":
		v = s.Platform
	case "browser":
		v = s.Browser
	}
	buf, err := json.Marshal(v)
	if err != nil {
		// maps of strings and decoded JSON values always marshal
		return fmt.Sprintf("!%v", err)
	}
	return string(buf)
}

func orEmptyCookies(m map[string]session.CookieRecord) map[string]session.CookieRecord {
	if m == nil {
		return map[string]session.CookieRecord{}
	}
	return m
}

func orEmptyStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// FieldStatus is a per-field policy verdict.
type FieldStatus string

const (
	FieldPresent FieldStatus = "present"
	FieldPartial FieldStatus = "partial"
	FieldMissing FieldStatus = "missing"
)

// FieldReport is one field's verdict under a policy check.
type FieldReport struct {
	Status FieldStatus
	// MissingKeys lists the selected keys absent from the snapshot.
	// Only set for partial.
	MissingKeys []string
}

// PolicyStatus is the overall verdict of a policy check.
type PolicyStatus string

const (
	PolicyFull    PolicyStatus = "full"
	PolicyPartial PolicyStatus = "partial"
	PolicyNone    PolicyStatus = "none"
)

// PolicyResult reports how a snapshot satisfies a team's field policy.
type PolicyResult struct {
	Status PolicyStatus
	Fields map[string]FieldReport
	// Filtered is the snapshot reflecting exactly the configured
	// selectors.
	Filtered *session.Snapshot
}

// Policy applies a team's field selectors to the snapshot: each configured
// field is judged present, partial or missing, and the snapshot is filtered
// down to exactly what the policy selects.
func Policy(s *session.Snapshot, sel session.Selectors) PolicyResult {
	out := &session.Snapshot{
		ID:         s.ID,
		TeamID:     s.TeamID,
		CapturedAt: s.CapturedAt,
		Source:     s.Source,
		Metadata:   s.Metadata,
	}
	fields := make(map[string]FieldReport)

	if sel.Cookies.Mode != session.SelectNone {
		kept, report := applyCookieSelector(s.Cookies, sel.Cookies)
		out.Cookies = kept
		fields["cookies"] = report
	}
	if sel.LocalStorage.Mode != session.SelectNone {
		kept, report := applyStringSelector(s.LocalStorage, sel.LocalStorage)
		out.LocalStorage = kept
		fields["localStorage"] = report
	}
	if sel.SessionStorage.Mode != session.SelectNone {
		kept, report := applyStringSelector(s.SessionStorage, sel.SessionStorage)
		out.SessionStorage = kept
		fields["sessionStorage"] = report
	}
	if sel.Fingerprint.Mode != session.SelectNone {
		kept, report := applyAnySelector(s.Fingerprint, sel.Fingerprint)
		out.Fingerprint = kept
		fields["fingerprint"] = report
	}
	if sel.GeoLocation.Mode != session.SelectNone {
		kept, report := applyAnySelector(s.GeoLocation, sel.GeoLocation)
		out.GeoLocation = kept
		fields["geoLocation"] = report
	}

	if sel.IPAddress {
		out.IPAddress = s.IPAddress
		fields["ipAddress"] = scalarReport(s.IPAddress)
	}
	if sel.UserAgent {
		out.UserAgent = s.UserAgent
		fields["userAgent"] = scalarReport(s.UserAgent)
	}
	if sel.Platform {
		out.Platform = s.Platform
		fields["platform"] = scalarReport(s.Platform)
	}
	if sel.Browser {
		out.Browser = s.Browser
		fields["browser"] = scalarReport(s.Browser)
	}

	return PolicyResult{Status: overall(fields), Fields: fields, Filtered: out}
}

func overall(fields map[string]FieldReport) PolicyStatus {
	if len(fields) == 0 {
		return PolicyFull
	}
	present := 0
	for _, r := range fields {
		if r.Status == FieldPresent {
			present++
		}
	}
	switch present {
	case len(fields):
		return PolicyFull
	case 0:
		return PolicyNone
	}
	return PolicyPartial
}

func scalarReport(value string) FieldReport {
	if strings.TrimSpace(value) == "" {
		return FieldReport{Status: FieldMissing}
	}
	return FieldReport{Status: FieldPresent}
}

func applyCookieSelector(in map[string]session.CookieRecord, sel session.FieldSelector) (map[string]session.CookieRecord, FieldReport) {
	if sel.Mode == session.SelectFull {
		if len(in) == 0 {
			return nil, FieldReport{Status: FieldMissing}
		}
		return in, FieldReport{Status: FieldPresent}
	}
	kept := make(map[string]session.CookieRecord, len(sel.Keys))
	var missing []string
	for _, k := range sel.Keys {
		if ck, ok := in[k]; ok {
			kept[k] = ck
		} else {
			missing = append(missing, k)
		}
	}
	return kept, keyedReport(len(sel.Keys), missing)
}

func applyStringSelector(in map[string]string, sel session.FieldSelector) (map[string]string, FieldReport) {
	if sel.Mode == session.SelectFull {
		if len(in) == 0 {
			return nil, FieldReport{Status: FieldMissing}
		}
		return in, FieldReport{Status: FieldPresent}
	}
	kept := make(map[string]string, len(sel.Keys))
	var missing []string
	for _, k := range sel.Keys {
		if v, ok := in[k]; ok {
			kept[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	return kept, keyedReport(len(sel.Keys), missing)
}

func applyAnySelector(in map[string]any, sel session.FieldSelector) (map[string]any, FieldReport) {
	if sel.Mode == session.SelectFull {
		if len(in) == 0 {
			return nil, FieldReport{Status: FieldMissing}
		}
		return in, FieldReport{Status: FieldPresent}
	}
	kept := make(map[string]any, len(sel.Keys))
	var missing []string
	for _, k := range sel.Keys {
		if v, ok := in[k]; ok {
			kept[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	return kept, keyedReport(len(sel.Keys), missing)
}

func keyedReport(wanted int, missing []string) FieldReport {
	switch {
	case len(missing) == 0:
		return FieldReport{Status: FieldPresent}
	case len(missing) == wanted:
		return FieldReport{Status: FieldMissing, MissingKeys: missing}
	}
	sort.Strings(missing)
	return FieldReport{Status: FieldPartial, MissingKeys: missing}
}
