package user

import "sort"

// Resources guarded by CanAccess.
const (
	ResourceUsers        = "users"
	ResourceCourses      = "courses"
	ResourceGrades       = "grades"
	ResourceAttendance   = "attendance"
	ResourceFees         = "fees"
	ResourceScholarships = "scholarships"
	ResourceExams        = "exams"
	ResourceReports      = "reports"
	ResourceAudit        = "audit"
	ResourceSettings     = "settings"
)

var (
	roleResources = map[string][]string{
		RoleAdmin: {
			ResourceUsers, ResourceCourses, ResourceGrades, ResourceAttendance, ResourceFees,
			ResourceScholarships, ResourceExams, ResourceReports, ResourceAudit, ResourceSettings,
		},
		RolePrincipal: {
			ResourceUsers, ResourceCourses, ResourceGrades, ResourceAttendance, ResourceFees,
			ResourceScholarships, ResourceExams, ResourceReports, ResourceAudit,
		},
		RoleFaculty:  {ResourceCourses, ResourceGrades, ResourceAttendance, ResourceExams},
		RoleEmployee: {ResourceFees, ResourceScholarships, ResourceReports},
		RoleStudent:  {ResourceCourses, ResourceScholarships},
	}

	rolePermissions = map[string][]string{
		RoleAdmin: {
			"admin", "manage_users", "manage_roles", "delete_records", "system_settings", "financial_management",
			"edit_records", "manage_courses", "manage_grades", "manage_attendance", "view_financials", "approve_leaves",
		},
		RolePrincipal: {
			"manage_users", "edit_records", "manage_courses", "manage_grades", "manage_attendance",
			"view_financials", "approve_leaves", "view_reports",
		},
		RoleFaculty:  {"manage_grades", "manage_attendance", "view_courses", "view_students"},
		RoleEmployee: {"view_financials", "edit_records", "view_reports"},
		RoleStudent:  {"view_courses", "view_grades", "apply_scholarship"},
	}
)

// CanAccess reports whether role may access resource.
func CanAccess(role, resource string) bool {
	return contains(roleResources[role], resource)
}

// DefaultPermissions returns the sorted permissions granted by role.
func DefaultPermissions(role string) []string {
	perms := append([]string(nil), rolePermissions[role]...)
	sort.Strings(perms)
	return perms
}
