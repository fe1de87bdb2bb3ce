// Package classify derives coarse client labels from a user agent and a
// coarse location from an IP address.
package classify

import "strings"

const Unknown = "Unknown"

// Client is the classification of one user agent.
type Client struct {
	Browser string
	OS      string
	Device  string
}

// rule labels a user agent when it contains marker. Rules are checked in
// slice order and the first hit wins.
type rule struct {
	marker string
	label  string
}

// Chrome must stay ahead of Safari and Edge: their user agents contain
// "Chrome" and "Safari" too, and the first match decides.
var browserRules = []rule{
	{"Chrome", "Chrome"},
	{"Firefox", "Firefox"},
	{"Safari", "Safari"},
	{"Edge", "Edge"},
}

var osRules = []rule{
	{"Windows", "Windows"},
	{"Mac", "macOS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
	{"iOS", "iOS"},
}

var deviceRules = []rule{
	{"Mobile", "Mobile"},
	{"Tablet", "Tablet"},
}

func match(ua string, rules []rule, fallback string) string {
	for _, r := range rules {
		if strings.Contains(ua, r.marker) {
			return r.label
		}
	}
	return fallback
}

// Classify is deterministic: the same input always gets the same labels.
// An empty user agent is Unknown on every dimension.
func Classify(userAgent string) Client {
	if userAgent == "" {
		return Client{Browser: Unknown, OS: Unknown, Device: Unknown}
	}
	return Client{
		Browser: match(userAgent, browserRules, Unknown),
		OS:      match(userAgent, osRules, Unknown),
		Device:  match(userAgent, deviceRules, "Desktop"),
	}
}
