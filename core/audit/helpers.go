package audit

import (
	"context"
	"fmt"
	"sort"
)

const (
	SecurityHigh   = "high"
	SecurityMedium = "medium"
	SecurityLow    = "low"
)

var (
	highRiskPermissions = map[string]struct{}{
		"admin":                {},
		"manage_users":         {},
		"manage_roles":         {},
		"delete_records":       {},
		"system_settings":      {},
		"financial_management": {},
	}
	mediumRiskPermissions = map[string]struct{}{
		"edit_records":      {},
		"manage_courses":    {},
		"manage_grades":     {},
		"manage_attendance": {},
		"view_financials":   {},
		"approve_leaves":    {},
	}
)

// SecurityLevel classifies a permission set by its riskiest permission.
func SecurityLevel(permissions []string) string {
	level := SecurityLow
	for _, p := range permissions {
		if _, ok := highRiskPermissions[p]; ok {
			return SecurityHigh
		}
		if _, ok := mediumRiskPermissions[p]; ok {
			level = SecurityMedium
		}
	}
	return level
}

// Diff returns the permissions of next missing from prev (added) and the ones of prev missing from next (removed),
// both sorted.
func Diff(prev, next []string) (added, removed []string) {
	return difference(next, prev), difference(prev, next)
}

func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	out := make([]string, 0)
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, ok := inB[s]; ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (l *Logger) LogProfileUpdate(ctx context.Context, actor Actor, target Target, field string, oldValue, newValue interface{}, reason string) Entry {
	return l.LogChange(ctx, Change{
		Actor:    actor,
		Target:   target,
		Action:   "profile_update",
		Category: CategoryProfile,
		Field:    field,
		OldValue: oldValue,
		NewValue: newValue,
		Reason:   reason,
	})
}

// LogPermissionUpdate records a permission (or role) change with the added/removed permissions
// and the security level of the new set.
func (l *Logger) LogPermissionUpdate(ctx context.Context, actor Actor, target Target, prev, next []string, reason string) Entry {
	added, removed := Diff(prev, next)
	return l.LogChange(ctx, Change{
		Actor:    actor,
		Target:   target,
		Action:   "permission_update",
		Category: CategoryPermission,
		Field:    "permissions",
		OldValue: prev,
		NewValue: next,
		Reason:   reason,
		Metadata: map[string]interface{}{
			"addedPermissions":   added,
			"removedPermissions": removed,
			"securityLevel":      SecurityLevel(next),
		},
	})
}

func (l *Logger) LogStatusUpdate(ctx context.Context, actor Actor, target Target, prev, next, reason string) Entry {
	return l.LogChange(ctx, Change{
		Actor:    actor,
		Target:   target,
		Action:   "status_change",
		Category: CategoryStatus,
		Field:    "status",
		OldValue: prev,
		NewValue: next,
		Reason:   reason,
	})
}

// LogBulkOperation records one entry for an operation applied to many targets.
func (l *Logger) LogBulkOperation(ctx context.Context, actor Actor, operation string, targetIDs []string, reason string) Entry {
	return l.LogChange(ctx, Change{
		Actor:    actor,
		Target:   Target{ID: "multiple", Name: fmt.Sprintf("%d records", len(targetIDs))},
		Action:   "bulk_" + operation,
		Category: CategoryBulk,
		Field:    "multiple",
		Reason:   reason,
		Metadata: map[string]interface{}{
			"affectedCount": len(targetIDs),
			"targetIds":     targetIDs,
		},
	})
}

func (l *Logger) LogDashboardUpdate(ctx context.Context, actor Actor, dashboard, setting string, oldValue, newValue interface{}) Entry {
	return l.LogChange(ctx, Change{
		Actor:    actor,
		Target:   Target{ID: dashboard, Name: dashboard + " dashboard"},
		Action:   "dashboard_update",
		Category: CategoryDashboard,
		Field:    setting,
		OldValue: oldValue,
		NewValue: newValue,
	})
}
