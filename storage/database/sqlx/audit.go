package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/audit"
)

const auditColumns = `id, "timestamp", actor, target, target_id, action, category, field, old_value, new_value, ` +
	"reason, metadata, ip_address, user_agent, session_id"

type auditRow struct {
	ID        string         `db:"id"`
	Timestamp time.Time      `db:"timestamp"`
	Actor     types.JSONText `db:"actor"`
	Target    types.JSONText `db:"target"`
	TargetID  string         `db:"target_id"`
	Action    string         `db:"action"`
	Category  string         `db:"category"`
	Field     string         `db:"field"`
	OldValue  types.JSONText `db:"old_value"`
	NewValue  types.JSONText `db:"new_value"`
	Reason    string         `db:"reason"`
	Metadata  types.JSONText `db:"metadata"`
	ClientIP  string         `db:"ip_address"`
	UserAgent string         `db:"user_agent"`
	SessionID string         `db:"session_id"`
}

func jsonText(v interface{}) (types.JSONText, error) {
	data, err := json.Marshal(v)
	return types.JSONText(data), err
}

func toAuditRow(e audit.Entry) (auditRow, error) {
	row := auditRow{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC(),
		TargetID:  e.Target.ID,
		Action:    e.Action,
		Category:  e.Category,
		Field:     e.Field,
		Reason:    e.Reason,
		ClientIP:  e.ClientIP,
		UserAgent: e.UserAgent,
		SessionID: e.SessionID,
	}
	var err error
	for _, col := range []struct {
		dst *types.JSONText
		v   interface{}
	}{
		{&row.Actor, e.Actor},
		{&row.Target, e.Target},
		{&row.OldValue, e.OldValue},
		{&row.NewValue, e.NewValue},
		{&row.Metadata, e.Metadata},
	} {
		if *col.dst, err = jsonText(col.v); err != nil {
			return auditRow{}, errors.Wrap(err, "encoding audit entry")
		}
	}
	return row, nil
}

func (r auditRow) entry() (audit.Entry, error) {
	e := audit.Entry{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC(),
		Action:    r.Action,
		Category:  r.Category,
		Field:     r.Field,
		Reason:    r.Reason,
		ClientIP:  r.ClientIP,
		UserAgent: r.UserAgent,
		SessionID: r.SessionID,
	}
	for _, col := range []struct {
		src types.JSONText
		dst interface{}
	}{
		{r.Actor, &e.Actor},
		{r.Target, &e.Target},
		{r.OldValue, &e.OldValue},
		{r.NewValue, &e.NewValue},
		{r.Metadata, &e.Metadata},
	} {
		if len(col.src) == 0 {
			continue
		}
		if err := col.src.Unmarshal(col.dst); err != nil {
			return audit.Entry{}, errors.Wrap(err, "decoding audit entry "+r.ID)
		}
	}
	return e, nil
}

type auditStore struct {
	db *sqlx.DB
}

var _ audit.Store = (*auditStore)(nil)

func NewAuditStore(db *sqlx.DB) audit.Store {
	return &auditStore{db: db}
}

func (s *auditStore) Append(ctx context.Context, entry audit.Entry) error {
	row, err := toAuditRow(entry)
	if err != nil {
		return err
	}
	q := "INSERT INTO audit_entries (" + auditColumns + ") VALUES (:id, :timestamp, :actor, :target, :target_id, " +
		":action, :category, :field, :old_value, :new_value, :reason, :metadata, :ip_address, :user_agent, :session_id)"
	if _, err = s.db.NamedExecContext(ctx, q, row); err != nil {
		return errors.Wrap(err, "inserting audit entry")
	}
	return nil
}

func (s *auditStore) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	q := "SELECT " + auditColumns + ` FROM audit_entries ORDER BY "timestamp" DESC LIMIT NULLIF($1, 0)`
	return s.list(ctx, q, limit)
}

func (s *auditStore) ListByTarget(ctx context.Context, targetID string, limit int) ([]audit.Entry, error) {
	q := "SELECT " + auditColumns + ` FROM audit_entries WHERE target_id = $2 ORDER BY "timestamp" DESC LIMIT NULLIF($1, 0)`
	return s.list(ctx, q, limit, targetID)
}

func (s *auditStore) list(ctx context.Context, q string, limit int, args ...interface{}) ([]audit.Entry, error) {
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, q, append([]interface{}{limit}, args...)...); err != nil {
		return nil, errors.Wrap(err, "listing audit entries")
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
