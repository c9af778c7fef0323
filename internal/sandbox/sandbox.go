// Package sandbox restricts which URLs the browser may be pointed at.
package sandbox

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDenied is returned by CheckURL when a URL falls outside the policy.
var ErrDenied = errors.New("url not permitted")

// Config defines the navigation policy.
type Config struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	DeniedDomains  []string `yaml:"denied_domains"`
}

// Sandbox enforces navigation restrictions.
type Sandbox struct {
	allowedDomains []string
	deniedDomains  []string
}

// New creates a Sandbox from the given config. Domain entries are matched
// case-insensitively against the URL host and all of its subdomains; a
// leading "*." or "." is accepted and ignored.
func New(cfg Config) (*Sandbox, error) {
	s := &Sandbox{}
	var err error
	if s.allowedDomains, err = normalizeDomains(cfg.AllowedDomains); err != nil {
		return nil, fmt.Errorf("allowed domains: %w", err)
	}
	if s.deniedDomains, err = normalizeDomains(cfg.DeniedDomains); err != nil {
		return nil, fmt.Errorf("denied domains: %w", err)
	}
	return s, nil
}

func normalizeDomains(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*")
		d = strings.TrimPrefix(d, ".")
		if d == "" {
			return nil, fmt.Errorf("empty domain entry")
		}
		if strings.ContainsAny(d, "/:*") {
			return nil, fmt.Errorf("invalid domain %q", d)
		}
		out = append(out, d)
	}
	return out, nil
}

// Enabled reports whether any rule is configured.
func (s *Sandbox) Enabled() bool {
	return len(s.allowedDomains) > 0 || len(s.deniedDomains) > 0
}

// CheckURL verifies that a URL may be loaded. With no rules every URL is
// permitted. Otherwise about:blank is always allowed, other non-http
// schemes are rejected, denied domains take precedence, and a non-empty
// allow list must contain the host.
func (s *Sandbox) CheckURL(raw string) error {
	if !s.Enabled() {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "about":
		if u.Opaque == "blank" {
			return nil
		}
		return fmt.Errorf("%w: scheme %q", ErrDenied, u.Scheme)
	default:
		return fmt.Errorf("%w: scheme %q", ErrDenied, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range s.deniedDomains {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: domain %q is denied", ErrDenied, host)
		}
	}

	if len(s.allowedDomains) == 0 {
		return nil
	}
	for _, d := range s.allowedDomains {
		if matchDomain(host, d) {
			return nil
		}
	}
	return fmt.Errorf("%w: domain %q is not in the allowed list", ErrDenied, host)
}

func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
