package coord

import "strings"

// EnsureTrailingSlash returns p with exactly one trailing slash appended when missing.
func EnsureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// LastSegment returns the part of p after the last slash, or p when it has none.
func LastSegment(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// Parent strips the final segment of p. ok is false when p has no slash.
func Parent(p string) (string, bool) {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "", false
	}
	return p[:idx], true
}

// Join builds a relative path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/")
}

// normalizeBase returns an absolute base path with a trailing slash ("/" for the tree root).
func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return EnsureTrailingSlash(base)
}

// absolute maps a base-relative path to its full tree path.
func absolute(base, rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		if base == "/" {
			return "/"
		}
		return strings.TrimSuffix(base, "/")
	}
	return base + rel
}

// relative strips base from a full tree path. Paths outside base are returned unchanged.
func relative(base, abs string) string {
	if abs == "" {
		return ""
	}
	if abs == strings.TrimSuffix(base, "/") || abs == base {
		return ""
	}
	if strings.HasPrefix(abs, base) {
		return abs[len(base):]
	}
	return abs
}
