package auth

// Capability is a named permission key. Keys are stored as free-form JSON
// booleans on the account document, so custom keys beyond this list survive
// role changes untouched.
type Capability string

// Named capabilities of the facility-operations platform.
const (
	CapViewUsers        Capability = "canViewUsers"
	CapManageUsers      Capability = "canManageUsers"
	CapViewFacilities   Capability = "canViewFacilities"
	CapManageFacilities Capability = "canManageFacilities"
	CapViewServices     Capability = "canViewServices"
	CapManageServices   Capability = "canManageServices"
	CapViewDevices      Capability = "canViewDevices"
	CapManageDevices    Capability = "canManageDevices"
	CapViewReadings     Capability = "canViewReadings"
	CapManageReadings   Capability = "canManageReadings"
	CapViewRosters      Capability = "canViewRosters"
	CapManageRosters    Capability = "canManageRosters"
	CapViewReports      Capability = "canViewReports"
	CapManageSettings   Capability = "canManageSettings"
)

// allCapabilities lists every named capability. Order matters only for tests.
var allCapabilities = []Capability{
	CapViewUsers, CapManageUsers,
	CapViewFacilities, CapManageFacilities,
	CapViewServices, CapManageServices,
	CapViewDevices, CapManageDevices,
	CapViewReadings, CapManageReadings,
	CapViewRosters, CapManageRosters,
	CapViewReports, CapManageSettings,
}

// OverrideAll in an override list grants every capability.
const OverrideAll = "all"

// PermissionSet is an account's resolved permissions: named boolean grants
// plus an override list. Stored as one JSON column on the account document.
type PermissionSet struct {
	Grants    map[Capability]bool `json:"grants"`
	Overrides []string            `json:"overrides,omitempty"`
}

// Effective reports whether the capability is granted, checking in order:
// the named grant, the "all" override, then a capability-name override.
// An explicit false grant does not veto overrides.
func (p PermissionSet) Effective(c Capability) bool {
	if p.Grants[c] {
		return true
	}
	for _, o := range p.Overrides {
		if o == OverrideAll || o == string(c) {
			return true
		}
	}
	return false
}

// Clone returns an independent deep copy.
func (p PermissionSet) Clone() PermissionSet {
	out := PermissionSet{Grants: make(map[Capability]bool, len(p.Grants))}
	for c, v := range p.Grants {
		out.Grants[c] = v
	}
	if len(p.Overrides) > 0 {
		out.Overrides = make([]string, len(p.Overrides))
		copy(out.Overrides, p.Overrides)
	}
	return out
}

// roleDefaults maps each role to its default permission set.
// This is the single source of truth for the authorisation model; it is
// read-only — every consumer goes through DefaultsForRole, which copies.
var roleDefaults = map[Role]PermissionSet{
	RoleSuperAdmin: {
		Grants: map[Capability]bool{
			CapViewUsers: true, CapManageUsers: true,
			CapViewFacilities: true, CapManageFacilities: true,
			CapViewServices: true, CapManageServices: true,
			CapViewDevices: true, CapManageDevices: true,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: true,
			CapViewReports: true, CapManageSettings: true,
		},
		Overrides: []string{OverrideAll},
	},
	RoleAdmin: {
		Grants: map[Capability]bool{
			CapViewUsers: true, CapManageUsers: true,
			CapViewFacilities: true, CapManageFacilities: true,
			CapViewServices: true, CapManageServices: true,
			CapViewDevices: true, CapManageDevices: true,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: true,
			CapViewReports: true, CapManageSettings: true,
		},
	},
	RoleFacilityManager: {
		Grants: map[Capability]bool{
			CapViewUsers: true, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: true,
			CapViewServices: true, CapManageServices: true,
			CapViewDevices: true, CapManageDevices: true,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: true,
			CapViewReports: true, CapManageSettings: false,
		},
	},
	RoleSupervisor: {
		Grants: map[Capability]bool{
			CapViewUsers: true, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: false,
			CapViewServices: true, CapManageServices: false,
			CapViewDevices: true, CapManageDevices: false,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: true,
			CapViewReports: true, CapManageSettings: false,
		},
	},
	RoleTechnician: {
		Grants: map[Capability]bool{
			CapViewUsers: false, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: false,
			CapViewServices: true, CapManageServices: false,
			CapViewDevices: true, CapManageDevices: true,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: false,
			CapViewReports: false, CapManageSettings: false,
		},
	},
	RoleHousekeeping: {
		Grants: map[Capability]bool{
			CapViewUsers: false, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: false,
			CapViewServices: true, CapManageServices: false,
			CapViewDevices: false, CapManageDevices: false,
			CapViewReadings: true, CapManageReadings: true,
			CapViewRosters: true, CapManageRosters: false,
			CapViewReports: false, CapManageSettings: false,
		},
	},
	RoleUser: {
		Grants: map[Capability]bool{
			CapViewUsers: false, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: false,
			CapViewServices: true, CapManageServices: false,
			CapViewDevices: true, CapManageDevices: false,
			CapViewReadings: true, CapManageReadings: false,
			CapViewRosters: false, CapManageRosters: false,
			CapViewReports: false, CapManageSettings: false,
		},
	},
	RoleGuest: {
		Grants: map[Capability]bool{
			CapViewUsers: false, CapManageUsers: false,
			CapViewFacilities: true, CapManageFacilities: false,
			CapViewServices: true, CapManageServices: false,
			CapViewDevices: false, CapManageDevices: false,
			CapViewReadings: false, CapManageReadings: false,
			CapViewRosters: false, CapManageRosters: false,
			CapViewReports: false, CapManageSettings: false,
		},
	},
}

// DefaultsForRole returns the default permission set for a role as an
// independent copy. Unknown roles get an empty set (deny everything).
func DefaultsForRole(role Role) PermissionSet {
	defaults, ok := roleDefaults[role]
	if !ok {
		return PermissionSet{Grants: map[Capability]bool{}}
	}
	return defaults.Clone()
}

// MergeRoleDefaults layers a role's defaults under an existing set: keys the
// account already has keep their values (custom grants survive role
// changes), missing keys are filled from the role defaults, and override
// lists are unioned with the existing entries first.
func MergeRoleDefaults(current PermissionSet, role Role) PermissionSet {
	defaults := DefaultsForRole(role)

	merged := PermissionSet{Grants: make(map[Capability]bool, len(defaults.Grants)+len(current.Grants))}
	for c, v := range current.Grants {
		merged.Grants[c] = v
	}
	for c, v := range defaults.Grants {
		if _, ok := merged.Grants[c]; !ok {
			merged.Grants[c] = v
		}
	}

	seen := make(map[string]bool, len(current.Overrides)+len(defaults.Overrides))
	for _, o := range current.Overrides {
		if !seen[o] {
			merged.Overrides = append(merged.Overrides, o)
			seen[o] = true
		}
	}
	for _, o := range defaults.Overrides {
		if !seen[o] {
			merged.Overrides = append(merged.Overrides, o)
			seen[o] = true
		}
	}

	return merged
}
