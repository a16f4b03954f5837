package auth

import (
	"fmt"

	"github.com/fisioclinic/clinic/pkg/textfold"
)

// Role is the closed set of staff roles. It is resolved once when a token is
// verified and carried as a typed value from then on.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePractitioner Role = "fisioterapeuta"
	RoleReception    Role = "recepcion"
)

var roleAliases = map[string]Role{
	"admin":          RoleAdmin,
	"administrador":  RoleAdmin,
	"fisioterapeuta": RolePractitioner,
	"fisio":          RolePractitioner,
	"physio":         RolePractitioner,
	"practitioner":   RolePractitioner,
	"recepcion":      RoleReception,
	"reception":      RoleReception,
	"recepcionista":  RoleReception,
}

// ParseRole accepts any spelling in roleAliases, ignoring case and accents.
func ParseRole(s string) (Role, error) {
	if r, ok := roleAliases[textfold.Fold(s)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePractitioner, RoleReception:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
