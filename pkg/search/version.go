package search

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Version is a search protocol generation.
type Version string

const (
	// VersionAuto resolves to a concrete version from the host name.
	VersionAuto Version = "auto"

	// VersionLegacy is the offset-paginated /rest/api/latest/search protocol.
	VersionLegacy Version = "legacy"

	// VersionNext is the token-paginated /rest/api/3/search/jql protocol.
	VersionNext Version = "next"
)

// ParseVersion parses a version name. The empty string means VersionAuto.
// The historical names "v2" and "v3" are accepted as aliases.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return VersionAuto, nil
	case "legacy", "v2", "2", "latest":
		return VersionLegacy, nil
	case "next", "v3", "3":
		return VersionNext, nil
	default:
		return "", fmt.Errorf("unknown search version %q", s)
	}
}

// Concrete reports whether v is Legacy or Next.
func (v Version) Concrete() bool {
	return v == VersionLegacy || v == VersionNext
}

// Deployment is the kind of installation behind a host.
type Deployment string

const (
	// DeploymentCloud is a managed cloud site.
	DeploymentCloud Deployment = "cloud"

	// DeploymentUnknown is anything else: Server, Data Center or an unrecognized host.
	DeploymentUnknown Deployment = "unknown"
)

// DefaultCloudSuffixes are the host suffixes of managed cloud sites.
var DefaultCloudSuffixes = []string{".atlassian.net"}

// DetectDeployment classifies host by suffix. host may be a bare host name,
// host:port or a full URL. Extra suffixes extend DefaultCloudSuffixes.
func DetectDeployment(host string, extraSuffixes ...string) Deployment {
	h := hostname(host)
	if h == "" {
		return DeploymentUnknown
	}
	for _, group := range [][]string{DefaultCloudSuffixes, extraSuffixes} {
		for _, suffix := range group {
			suffix = strings.ToLower(strings.TrimSpace(suffix))
			if suffix == "" {
				continue
			}
			if !strings.HasPrefix(suffix, ".") {
				suffix = "." + suffix
			}
			if strings.HasSuffix(h, suffix) {
				return DeploymentCloud
			}
		}
	}
	return DeploymentUnknown
}

// Resolve picks the concrete protocol version for host.
// An explicit Legacy or Next override always wins. Otherwise cloud hosts use Next
// and every other host falls back to Legacy.
func Resolve(host string, override Version, extraSuffixes ...string) Version {
	if override.Concrete() {
		return override
	}
	if DetectDeployment(host, extraSuffixes...) == DeploymentCloud {
		return VersionNext
	}
	return VersionLegacy
}

func hostname(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return strings.ToLower(u.Hostname())
		}
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(strings.TrimSuffix(s, "."))
}
