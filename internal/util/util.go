// Package util holds small helpers shared across mcroute packages.
package util

import "strings"

// Coalesce returns def when v is the zero value of T - otherwise v.
func Coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// StorageKey namespaces key under prefix ("<prefix>:<key>").
// An empty prefix returns key unchanged.
func StorageKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	var b strings.Builder
	b.Grow(len(prefix) + 1 + len(key))
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(key)
	return b.String()
}
