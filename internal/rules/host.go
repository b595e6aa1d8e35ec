package rules

import "strings"

// HostRewrite restores the public host on URLs that were crawled from a local
// server. Extracted URLs arrive in local form and leave in override form.
type HostRewrite struct {
	OverrideHost string
	OverrideURL  string
	LocalHost    string
	LocalURL     string
}

// NewHostRewrite returns nil unless all three values are set.
func NewHostRewrite(overrideHost, localHost, localURL string) *HostRewrite {
	if overrideHost == "" || localHost == "" || localURL == "" {
		return nil
	}
	return &HostRewrite{
		OverrideHost: overrideHost,
		OverrideURL:  "https://" + overrideHost,
		LocalHost:    localHost,
		LocalURL:     localURL,
	}
}

// Rewrite replaces the local URL, then the local host, everywhere in u.
// A nil HostRewrite returns u unchanged.
func (h *HostRewrite) Rewrite(u string) string {
	if h == nil {
		return u
	}
	u = strings.ReplaceAll(u, h.LocalURL, h.OverrideURL)
	return strings.ReplaceAll(u, h.LocalHost, h.OverrideHost)
}
