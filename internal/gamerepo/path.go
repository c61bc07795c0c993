package gamerepo

import (
	"fmt"
	"strconv"
	"strings"
)

// PathDescriptor is a namespaced request path split into the resource
// prefix, an optional explicit version and the leaf file name.
type PathDescriptor struct {
	Prefix   string
	Version  int
	Explicit bool
	Leaf     string
}

// String rebuilds the request path the descriptor was parsed from.
func (d PathDescriptor) String() string {
	if d.Explicit {
		return d.Prefix + "/v" + strconv.Itoa(d.Version) + "/" + d.Leaf
	}
	return d.Prefix + "/" + d.Leaf
}

// ExplicitVersion returns the requested version, or nil when the path
// carried none.
func (d PathDescriptor) ExplicitVersion() *int {
	if !d.Explicit {
		return nil
	}
	v := d.Version
	return &v
}

// ParsePath splits p at its last "/" into prefix and leaf. If the prefix
// ends in "/v<digits>" that segment is taken as the explicit version.
//
// The result must rebuild p exactly; anything else (leading zeros in the
// version, for instance) is reported as ErrMalformedPath.
func ParsePath(p string) (PathDescriptor, error) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return PathDescriptor{}, fmt.Errorf("%w: %q has no separator", ErrMalformedPath, p)
	}
	d := PathDescriptor{Prefix: p[:i], Leaf: p[i+1:]}

	if j := strings.LastIndex(d.Prefix, "/v"); j >= 0 {
		if n, ok := parseVersion(d.Prefix[j+2:]); ok {
			d.Version = n
			d.Explicit = true
			d.Prefix = d.Prefix[:j]
		}
	}

	if got := d.String(); got != p {
		return PathDescriptor{}, fmt.Errorf("%w: %q rebuilds as %q", ErrMalformedPath, p, got)
	}
	return d, nil
}

// parseVersion accepts a non-empty run of ASCII digits that fits a 32-bit
// signed integer. Signs, spaces and overflow all mean "not a version".
func parseVersion(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// versionedName is the store path of leaf under prefix at version v.
func versionedName(prefix string, v int, leaf string) string {
	if v == 0 {
		return prefix + "/" + leaf
	}
	return prefix + "/v" + strconv.Itoa(v) + "/" + leaf
}
