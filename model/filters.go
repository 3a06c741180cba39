package model

import (
	"fmt"
	"strings"
)

// SVHealth is a satellite health status, also used as a query filter.
type SVHealth int

const (
	HealthUnknown SVHealth = iota
	HealthAny
	HealthHealthy
	HealthUnhealthy
	HealthDegraded
)

var healthNames = map[SVHealth]string{
	HealthUnknown:   "Unknown",
	HealthAny:       "Any",
	HealthHealthy:   "Healthy",
	HealthUnhealthy: "Unhealthy",
	HealthDegraded:  "Degraded",
}

func (h SVHealth) String() string {
	if s, ok := healthNames[h]; ok {
		return s
	}
	return fmt.Sprintf("SVHealth(%d)", int(h))
}

// Accepts reports whether a record with health h passes the filter f.
func (f SVHealth) Accepts(h SVHealth) bool {
	return f == HealthAny || f == h
}

// NavValidityType selects records by the outcome of their validation.
type NavValidityType int

const (
	ValidityUnknown NavValidityType = iota
	ValidOnly
	InvalidOnly
	ValidityAny
)

var validityNames = map[NavValidityType]string{
	ValidityUnknown: "Unknown",
	ValidOnly:       "ValidOnly",
	InvalidOnly:     "InvalidOnly",
	ValidityAny:     "Any",
}

func (v NavValidityType) String() string {
	if s, ok := validityNames[v]; ok {
		return s
	}
	return fmt.Sprintf("NavValidityType(%d)", int(v))
}

// Accepts reports whether a record whose validation returned valid passes.
func (v NavValidityType) Accepts(valid bool) bool {
	switch v {
	case ValidOnly:
		return valid
	case InvalidOnly:
		return !valid
	}
	return true
}

// NavSearchOrder selects how find chooses between candidate records.
type NavSearchOrder int

const (
	SearchUnknown NavSearchOrder = iota
	SearchUser
	SearchNearest
)

func (o NavSearchOrder) String() string {
	switch o {
	case SearchUser:
		return "User"
	case SearchNearest:
		return "Nearest"
	}
	return "Unknown"
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

// ParseSVHealth accepts any|healthy|unhealthy|degraded.
func ParseSVHealth(s string) (SVHealth, error) {
	switch normalizeName(s) {
	case "any", "":
		return HealthAny, nil
	case "healthy":
		return HealthHealthy, nil
	case "unhealthy":
		return HealthUnhealthy, nil
	case "degraded":
		return HealthDegraded, nil
	}
	return HealthUnknown, fmt.Errorf("unknown health filter %q", s)
}

// ParseValidity accepts valid_only|invalid_only|any.
func ParseValidity(s string) (NavValidityType, error) {
	switch normalizeName(s) {
	case "validonly", "valid", "":
		return ValidOnly, nil
	case "invalidonly", "invalid":
		return InvalidOnly, nil
	case "any", "all":
		return ValidityAny, nil
	}
	return ValidityUnknown, fmt.Errorf("unknown validity filter %q", s)
}

// ParseSearchOrder accepts user|nearest.
func ParseSearchOrder(s string) (NavSearchOrder, error) {
	switch normalizeName(s) {
	case "user", "":
		return SearchUser, nil
	case "nearest":
		return SearchNearest, nil
	}
	return SearchUnknown, fmt.Errorf("unknown search order %q", s)
}
