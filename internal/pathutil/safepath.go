package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSafeRequestPath reports whether p can be mapped onto the store without
// escaping it: absolute, no NUL bytes, no backslashes and no dot segments.
func IsSafeRequestPath(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if strings.ContainsRune(p, 0) || strings.Contains(p, `\`) {
		return false
	}
	return !HasDotSegments(p)
}
