package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleBuilder  Role = "builder"
	RoleExplorer Role = "explorer"
	RoleMiner    Role = "miner"
)

func ParseRoles(raw []string) ([]Role, error) {
	roles := make([]Role, 0, len(raw))
	for _, value := range raw {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" {
			return nil, fmt.Errorf("role is empty")
		}
		roles = append(roles, Role(trimmed))
	}
	return roles, nil
}
