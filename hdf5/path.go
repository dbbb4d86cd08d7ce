package hdf5

import (
	"fmt"
	"strings"
)

// ParseAttrPath splits "/group/object@attr" into the object path and the
// attribute name.
func ParseAttrPath(p string) (objectPath, attrName string, err error) {
	i := strings.LastIndex(p, "@")
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q has no '@' separator", ErrInvalidPath, p)
	}
	objectPath, attrName = p[:i], p[i+1:]
	if attrName == "" {
		return "", "", fmt.Errorf("%w: empty attribute name in %q", ErrInvalidPath, p)
	}
	return CleanPath(objectPath), attrName, nil
}

// JoinAttrPath is the inverse of ParseAttrPath.
func JoinAttrPath(objectPath, attrName string) string {
	if objectPath == "/" {
		return "/@" + attrName
	}
	return objectPath + "@" + attrName
}

// SplitPath returns the non-empty components of p.
func SplitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CleanPath returns p with a leading slash and no trailing or repeated
// slashes.
func CleanPath(p string) string {
	return "/" + strings.Join(SplitPath(p), "/")
}
