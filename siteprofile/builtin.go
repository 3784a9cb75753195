package siteprofile

// Builtin returns the profiles shipped with the engine. Operators can extend
// the set with LoadFile; built-ins cover the two platforms the team pool was
// originally built for.
func Builtin() []Profile {
	return []Profile{
		{
			Key:             "maang",
			PrimaryHost:     "maang.in",
			HostPatterns:    []string{"*://maang.in/*", "*://*.maang.in/*"},
			RequiredCookies: []string{"access_token", "refresh_token"},
			RequiredLocal:   []string{"az_user_tracking_id"},
			RequiredSession: nil,
		},
		{
			Key:             "devs",
			PrimaryHost:     "100xdevs.com",
			HostPatterns:    []string{"*://100xdevs.com/*", "*://*.100xdevs.com/*"},
			RequiredCookies: []string{"access_token", "refresh_token"},
			RequiredLocal:   []string{"user_id"},
			RequiredSession: nil,
		},
	}
}
