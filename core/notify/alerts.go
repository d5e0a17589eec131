package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/trezcool/chuo/core/audit"
)

// SystemActor is the actor of notifications raised by the application itself.
var SystemActor = Actor{ID: "system", Name: "System"}

// BulkSeverity grades a bulk operation by the number of records it touched.
func BulkSeverity(affected int) string {
	switch {
	case affected > 100:
		return SeverityHigh
	case affected > 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SendSecurityAlert always goes out as critical on the in-app, email & sms channels.
func (d *Dispatcher) SendSecurityAlert(ctx context.Context, actor Actor, title, message string, metadata map[string]interface{}) (Payload, error) {
	return d.Send(ctx, Notification{
		Type:     TypeSecurity,
		Category: "security",
		Title:    title,
		Message:  message,
		Actor:    actor,
		Action:   "security_alert",
		Severity: SeverityCritical,
		Channels: []string{ChannelInApp, ChannelEmail, ChannelSMS},
		Metadata: metadata,
	})
}

// SendProfileChangeAlert notifies target of changes made to their profile.
// Email is added to the channels only for critical changes.
func (d *Dispatcher) SendProfileChangeAlert(ctx context.Context, actor Actor, target Target, fields []string, severity string) (Payload, error) {
	channels := []string{ChannelInApp}
	if severity == SeverityCritical {
		channels = append(channels, ChannelEmail)
	}
	return d.Send(ctx, Notification{
		Type:       TypeProfile,
		Category:   "user_management",
		Title:      "Profile updated",
		Message:    fmt.Sprintf("%s updated the profile of %s: %s", actor.Name, target.Name, strings.Join(fields, ", ")),
		Actor:      actor,
		Target:     &target,
		Action:     "profile_update",
		Severity:   severity,
		Channels:   channels,
		Recipients: []string{target.ID},
		Metadata:   map[string]interface{}{"changedFields": fields},
	})
}

// SendBulkOperationAlert grades the severity with BulkSeverity.
func (d *Dispatcher) SendBulkOperationAlert(ctx context.Context, actor Actor, operation string, affected int) (Payload, error) {
	return d.Send(ctx, Notification{
		Type:     TypeBulk,
		Category: "data_management",
		Title:    "Bulk operation performed",
		Message:  fmt.Sprintf("%s performed a bulk %s on %d records", actor.Name, operation, affected),
		Actor:    actor,
		Action:   "bulk_" + operation,
		Severity: BulkSeverity(affected),
		Metadata: map[string]interface{}{
			"operation":     operation,
			"affectedCount": affected,
		},
	})
}

// SendPermissionChangeAlert grades the severity by the riskiest permission granted.
func (d *Dispatcher) SendPermissionChangeAlert(ctx context.Context, actor Actor, target Target, added, removed []string) (Payload, error) {
	severity := audit.SecurityLevel(added)
	channels := []string{ChannelInApp}
	if severity == SeverityHigh {
		channels = append(channels, ChannelEmail)
	}
	return d.Send(ctx, Notification{
		Type:       TypePermission,
		Category:   "security",
		Title:      "Permissions changed",
		Message:    fmt.Sprintf("%s changed the permissions of %s", actor.Name, target.Name),
		Actor:      actor,
		Target:     &target,
		Action:     "permission_update",
		Severity:   severity,
		Channels:   channels,
		Recipients: []string{target.ID},
		Metadata: map[string]interface{}{
			"addedPermissions":   added,
			"removedPermissions": removed,
		},
	})
}

// SendStatusChangeAlert is medium when an account loses access, low otherwise.
func (d *Dispatcher) SendStatusChangeAlert(ctx context.Context, actor Actor, target Target, prev, next string) (Payload, error) {
	severity := SeverityLow
	if next == "inactive" || next == "suspended" {
		severity = SeverityMedium
	}
	return d.Send(ctx, Notification{
		Type:       TypeStatus,
		Category:   "user_management",
		Title:      "Account status changed",
		Message:    fmt.Sprintf("The status of %s changed from %s to %s", target.Name, prev, next),
		Actor:      actor,
		Target:     &target,
		Action:     "status_change",
		Severity:   severity,
		Recipients: []string{target.ID},
		Metadata: map[string]interface{}{
			"previousStatus": prev,
			"newStatus":      next,
		},
	})
}

// SendSystemAlert is raised by the SystemActor. High & critical alerts are also emailed.
func (d *Dispatcher) SendSystemAlert(ctx context.Context, title, message, severity string) (Payload, error) {
	channels := []string{ChannelInApp}
	if severity == SeverityHigh || severity == SeverityCritical {
		channels = append(channels, ChannelEmail)
	}
	return d.Send(ctx, Notification{
		Type:     TypeSystem,
		Category: "system",
		Title:    title,
		Message:  message,
		Actor:    SystemActor,
		Action:   "system_alert",
		Severity: severity,
		Channels: channels,
	})
}
