// Package authz decides whether a staff principal may perform an operation.
//
// The gate never validates credentials itself: callers hand it a principal
// that a TokenVerifier has already produced, or nil for an anonymous caller.
package authz

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RoleOfficer    = "officer"
)

// StaffRoles is every role the portal recognises.
var StaffRoles = []string{RoleAdmin, RoleTechnician, RoleOfficer}

type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

type Operation string

const (
	OpAssignRepair       Operation = "assign_repair"
	OpStartRepair        Operation = "start_repair"
	OpCompleteRepair     Operation = "complete_repair"
	OpCancelReport       Operation = "cancel_report"
	OpReviewRequest      Operation = "review_request"
	OpSetPriority        Operation = "set_priority"
	OpListReports        Operation = "list_reports"
	OpGenerateAssetCode  Operation = "generate_asset_code"
	OpManageCategories   Operation = "manage_categories"
	OpManageProblemTypes Operation = "manage_problem_types"
	OpManageUsers        Operation = "manage_users"
	OpWatchEvents        Operation = "watch_events"
)

// policy maps each operation to the roles allowed to perform it.
var policy = map[Operation][]string{
	OpAssignRepair:      StaffRoles,
	OpStartRepair:       StaffRoles,
	OpCompleteRepair:    StaffRoles,
	OpCancelReport:      StaffRoles,
	OpReviewRequest:     StaffRoles,
	OpSetPriority:       StaffRoles,
	OpListReports:       StaffRoles,
	OpGenerateAssetCode: StaffRoles,
	OpWatchEvents:       StaffRoles,

	OpManageCategories:   {RoleAdmin},
	OpManageProblemTypes: {RoleAdmin},
	OpManageUsers:        {RoleAdmin},
}

// Authorize returns nil when p may perform op. A nil principal yields
// ErrUnauthenticated; a principal without an allowed role yields ErrForbidden.
// Unknown operations are denied.
func Authorize(p *Principal, op Operation) error {
	if p == nil || p.ID == "" {
		return ErrUnauthenticated
	}
	allowed, ok := policy[op]
	if !ok {
		return fmt.Errorf("%w: unknown operation %q", ErrForbidden, op)
	}
	for _, role := range p.Roles {
		if slices.Contains(allowed, role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires one of %v", ErrForbidden, op, allowed)
}

// IsStaffRole reports whether role is recognised by the portal.
func IsStaffRole(role string) bool {
	return slices.Contains(StaffRoles, role)
}
