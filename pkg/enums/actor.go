package enums

import "fmt"

// ActorRole distinguishes who is calling: operators drive day-to-day money
// movement, the master authority approves and administers, services are the
// workers acting on their own credentials.
type ActorRole string

const (
	ActorRoleOperator ActorRole = "operator"
	ActorRoleMaster   ActorRole = "master"
	ActorRoleService  ActorRole = "service"
)

var validActorRoles = []ActorRole{
	ActorRoleOperator,
	ActorRoleMaster,
	ActorRoleService,
}

// IsValid reports whether the value matches the canonical actor_role enum.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
