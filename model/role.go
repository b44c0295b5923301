package model

import (
	"fmt"
	"strings"
)

// Role is the audience of an entry and the privilege level of a caller.
type Role string

const (
	RolePM  Role = "pm"
	RoleDev Role = "dev"
	RoleQA  Role = "qa"
	RoleAll Role = "all"
)

// ParseRole normalizes value case-insensitively. It never falls back to a
// default, callers pick RoleAll themselves when it fails.
func ParseRole(value string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(value))); r {
	case RolePM, RoleDev, RoleQA, RoleAll:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q, expected one of pm, dev, qa, all", value)
	}
}

// Level orders roles by privilege: all < dev = qa < pm.
func (r Role) Level() int {
	switch r {
	case RolePM:
		return 2
	case RoleDev, RoleQA:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether r may use something that requires required.
func (r Role) Satisfies(required Role) bool {
	return r.Level() >= required.Level()
}
