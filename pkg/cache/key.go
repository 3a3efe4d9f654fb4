package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// PageKey identifies one page of the tests collection of an ALM project.
type PageKey struct {
	// Server is the ALM web domain (e.g. "https://alm.example.com"); only
	// its host is part of the key
	Server string

	// Domain is the ALM domain (e.g. "DEFAULT")
	Domain string

	// Project is the ALM project within Domain
	Project string

	// PageSize is the requested page size
	PageSize int

	// StartIndex is the 1-based index of the first record of the page
	StartIndex int
}

// String generates a deterministic cache key string.
// Format: alm:host:domain:project:tests:page-size=N:start-index=M
//
// Example:
//
//	alm:alm.example.com:default:qa:tests:page-size=100:start-index=101
func (k PageKey) String() string {
	parts := []string{"alm"}

	if h := serverHost(k.Server); h != "" {
		parts = append(parts, h)
	}

	// ALM treats domain and project names case-insensitively
	if d := strings.ToLower(strings.TrimSpace(k.Domain)); d != "" {
		parts = append(parts, d)
	}
	if p := strings.ToLower(strings.TrimSpace(k.Project)); p != "" {
		parts = append(parts, p)
	}

	parts = append(parts,
		"tests",
		fmt.Sprintf("page-size=%d", k.PageSize),
		fmt.Sprintf("start-index=%d", k.StartIndex),
	)

	return strings.Join(parts, ":")
}

// serverHost reduces a web domain to its lowercased host[:port].
func serverHost(server string) string {
	server = strings.TrimSpace(server)
	if server == "" {
		return ""
	}
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		return strings.ToLower(u.Host)
	}
	return strings.ToLower(strings.TrimRight(server, "/"))
}
