package device

import (
	"fmt"
	"strings"
)

const (
	UnknownName  = "Unknown Device"
	UnknownClass = "?"
)

// DisplayName picks the name shown for a device: reported name, then
// description, then a placeholder.
func DisplayName(name, description string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return UnknownName
}

// ClassOrUnknown returns the class string or "?" when the platform reported none
func ClassOrUnknown(class string) string {
	if c := strings.TrimSpace(class); c != "" {
		return c
	}
	return UnknownClass
}

// VidPidFromID extracts "vvvv:pppp" from an identity containing VID_vvvv and PID_pppp.
// Returns nil when either part is missing or truncated.
func VidPidFromID(id string) *string {
	upper := strings.ToUpper(id)
	vid, ok := fourAfter(upper, "VID_")
	if !ok {
		return nil
	}
	pid, ok := fourAfter(upper, "PID_")
	if !ok {
		return nil
	}
	s := fmt.Sprintf("%s:%s", vid, pid)
	return &s
}

func fourAfter(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker)
	if start+4 > len(s) {
		return "", false
	}
	return s[start : start+4], true
}

// Deref returns the pointed-to string or "" for nil
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for empty strings
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
