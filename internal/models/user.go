package models

import "fmt"

type Role string

const (
	RoleRenter   Role = "renter"
	RoleLandlord Role = "landlord"
	RoleSystem   Role = "system"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleRenter, RoleLandlord:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Actor is the authenticated caller supplied by the identity layer.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// SystemActor performs scheduled transitions.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsRenter() bool   { return a.Role == RoleRenter }
func (a Actor) IsLandlord() bool { return a.Role == RoleLandlord }
