// Package env provides small helpers for reading fallback configuration
// from the process environment, the same shape the teacher's transport
// plugins use for their Config.Extra escape hatch (see SPEC_FULL.md §2).
// It deliberately does not pull in a flags/config library: the corpus this
// module was grounded on never imports one for this.
package env

import (
	"os"
	"strconv"
)

// String returns the value of key, or def if unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the integer value of key, or def if unset, empty, or
// unparseable.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean value of key, or def if unset, empty, or
// unparseable. Accepts the same forms as strconv.ParseBool.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
