package membership

import "fmt"

// ConfigurationError reports malformed role descriptors
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid membership configuration: " + e.Reason
}

// UnknownRoleError is returned when an operation names a role that is not registered
type UnknownRoleError struct {
	Role RoleName
	Op   string // "status", "create" or "snapshot"
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("%s: unknown role %q", e.Op, e.Role)
}

// MissingTransportError is returned when a manager needs the bus before one was attached
type MissingTransportError struct {
	Manager ManagerID
}

func (e *MissingTransportError) Error() string {
	return fmt.Sprintf("manager %s has no transport attached", e.Manager)
}
