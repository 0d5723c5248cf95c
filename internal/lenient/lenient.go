// Package lenient reads loosely-shaped backend JSON. Field names drift
// between endpoints (_id vs id, createdAt as millis or RFC3339), so callers
// list the candidate paths and take the first present one.
package lenient

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// First returns the first of paths that exists and is not null.
func First(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		v := r.Get(p)
		if v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// String is First as a trimmed string.
func String(r gjson.Result, paths ...string) string {
	return strings.TrimSpace(First(r, paths...).String())
}

// ID reads an identifier that may be a bare string or an object with _id/id.
func ID(r gjson.Result, paths ...string) string {
	v := First(r, paths...)
	if v.IsObject() {
		return String(v, "_id", "id")
	}
	return strings.TrimSpace(v.String())
}

// Time parses unix milliseconds or an RFC3339 string. ok is false when the
// value is missing or unparseable.
func Time(r gjson.Result, paths ...string) (time.Time, bool) {
	v := First(r, paths...)
	switch v.Type {
	case gjson.Number:
		ms := v.Int()
		if ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
