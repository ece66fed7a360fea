// SPDX-License-Identifier: GPL-3.0-or-later

// Package names implements hierarchical name resolution and remapping:
// clean, resolve, append, and the special __key handling used at node
// init time.
package names

import "strings"

// Clean collapses runs of "/" and trims a trailing "/", except when the
// result would be the empty string (the root name "/" is left alone).
func Clean(name string) string {
	if name == "" {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	lastWasSlash := false
	for _, r := range name {
		if r == '/' {
			if lastWasSlash {
				continue
			}
			lastWasSlash = true
		} else {
			lastWasSlash = false
		}
		b.WriteRune(r)
	}
	cleaned := b.String()
	if len(cleaned) > 1 && strings.HasSuffix(cleaned, "/") {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return cleaned
}

// Append concatenates left and right with exactly one "/" between them.
func Append(left, right string) string {
	left = strings.TrimSuffix(left, "/")
	right = strings.TrimPrefix(right, "/")
	if left == "" {
		return "/" + right
	}
	return left + "/" + right
}

// Resolve resolves name against namespace ns and, when name starts with
// "~", against callerName (this node's own fully-qualified name).
//
//   - name starting with "~": prepend callerName + "/", then clean.
//   - name starting with "/": already global, just clean.
//   - otherwise: prepend ns + "/", then clean.
//
// When applyRemap is true, the cleaned, fully-qualified result is looked
// up in remap by exact match and substituted if found. Remap lookups are
// never recursive: the substituted name is returned as-is.
func Resolve(ns, name string, applyRemap bool, remap map[string]string, callerName string) string {
	var resolved string
	switch {
	case strings.HasPrefix(name, "~"):
		resolved = Append(callerName, name[1:])
	case strings.HasPrefix(name, "/"):
		resolved = name
	default:
		resolved = Append(ns, name)
	}
	resolved = Clean(resolved)
	if applyRemap {
		if substituted, ok := remap[resolved]; ok {
			return Clean(substituted)
		}
	}
	return resolved
}
