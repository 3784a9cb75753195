package session

import "encoding/json"

// SelectorMode is a per-field collection policy.
type SelectorMode int

const (
	// SelectNone excludes the field entirely.
	SelectNone SelectorMode = iota
	// SelectFull keeps the field verbatim.
	SelectFull
	// SelectKeys keeps only the listed keys of a map-valued field.
	SelectKeys
)

// FieldSelector governs what subset of a snapshot field is collected or
// compared for a team. Simple scalar fields (ipAddress, userAgent, platform,
// browser) support only none/full; a key list on them degrades to none.
type FieldSelector struct {
	Mode SelectorMode
	Keys []string
}

// ParseFieldSelector decodes the admin-managed policy encoding: "none" (or
// empty), "full", or a JSON array of key names. Anything unparseable is
// treated as none, matching the tolerant behaviour the dashboard relies on.
func ParseFieldSelector(raw string) FieldSelector {
	switch raw {
	case "", "none":
		return FieldSelector{Mode: SelectNone}
	case "full":
		return FieldSelector{Mode: SelectFull}
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil || keys == nil {
		return FieldSelector{Mode: SelectNone}
	}
	return FieldSelector{Mode: SelectKeys, Keys: keys}
}

// Selectors is the full per-team field policy consumed by match_config.
type Selectors struct {
	Cookies        FieldSelector
	LocalStorage   FieldSelector
	SessionStorage FieldSelector
	Fingerprint    FieldSelector
	GeoLocation    FieldSelector

	IPAddress bool
	UserAgent bool
	Platform  bool
	Browser   bool
}

// ParseSelectors decodes a raw string-keyed policy map as stored by the
// admin surface.
func ParseSelectors(raw map[string]string) Selectors {
	return Selectors{
		Cookies:        ParseFieldSelector(raw["cookies"]),
		LocalStorage:   ParseFieldSelector(raw["localStorage"]),
		SessionStorage: ParseFieldSelector(raw["sessionStorage"]),
		Fingerprint:    ParseFieldSelector(raw["fingerprint"]),
		GeoLocation:    ParseFieldSelector(raw["geoLocation"]),
		IPAddress:      raw["ipAddress"] == "full",
		UserAgent:      raw["userAgent"] == "full",
		Platform:       raw["platform"] == "full",
		Browser:        raw["browser"] == "full",
	}
}
