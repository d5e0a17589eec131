package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
)

const userColumns = "id, name, username, email, phone, department, role, status, permissions, password_hash, " +
	"created_at, updated_at, last_login"

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	Department   string         `db:"department"`
	Role         string         `db:"role"`
	Status       string         `db:"status"`
	Permissions  pq.StringArray `db:"permissions"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    time.Time      `db:"last_login"`
}

func toRow(usr user.User) userRow {
	perms := usr.Permissions
	if perms == nil {
		perms = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		Phone:        usr.Phone,
		Department:   usr.Department,
		Role:         usr.Role,
		Status:       usr.Status,
		Permissions:  perms,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    usr.LastLogin.UTC(),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Phone:        r.Phone,
		Department:   r.Department,
		Role:         r.Role,
		Status:       r.Status,
		Permissions:  []string(r.Permissions),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.UTC(),
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) IsAvailable(ctx context.Context, field, value, excludedID string) (bool, error) {
	if field != "username" && field != "email" {
		return false, errors.Errorf("unknown unique field %q", field)
	}
	if value == "" {
		return true, nil
	}
	q := "SELECT EXISTS(SELECT 1 FROM users WHERE " + field + " = $1"
	args := []interface{}{value}
	if _, err := uuid.Parse(excludedID); err == nil {
		q += " AND id <> $2"
		args = append(args, excludedID)
	}
	q += ")"

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, q, args...); err != nil {
		return false, errors.Wrap(err, "checking "+field+" availability")
	}
	return !exists, nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	q := "INSERT INTO users (" + userColumns + ") VALUES (:id, :name, :username, :email, :phone, :department, " +
		":role, :status, :permissions, :password_hash, :created_at, :updated_at, :last_login)"
	if _, err := repo.db.NamedExecContext(ctx, q, toRow(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			where = append(where, "(name ILIKE "+p+" OR username ILIKE "+p+" OR email ILIKE "+p+")")
		}
		if len(filter.Roles) > 0 {
			where = append(where, "role = ANY("+arg(pq.Array(filter.Roles))+")")
		}
		if len(filter.Statuses) > 0 {
			where = append(where, "status = ANY("+arg(pq.Array(filter.Statuses))+")")
		}
		if filter.Department != "" {
			where = append(where, "LOWER(department) = LOWER("+arg(filter.Department)+")")
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, user.Orderings, "created_at DESC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	q := "SELECT " + userColumns + " FROM users WHERE "
	var args []interface{}

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		q += "id = $1"
		args = append(args, filter.ID)
	case filter.Username != "":
		q += "username = $1"
		args = append(args, filter.Username)
	case filter.Email != "":
		q += "email = $1"
		args = append(args, filter.Email)
	case filter.UsernameOrEmail != "":
		q += "(username = $1 OR email = $1)"
		args = append(args, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, q+" LIMIT 1", args...); err != nil {
		return user.User{}, trapNoRowsErr(err, "finding user")
	}
	return row.user(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := "UPDATE users SET name = :name, username = :username, email = :email, phone = :phone, " +
		"department = :department, role = :role, status = :status, permissions = :permissions, " +
		"password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login WHERE id = :id"
	res, err := repo.db.NamedExecContext(ctx, q, toRow(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	return repo.UpdateUser(ctx, usr)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, "DELETE FROM users WHERE id = ANY($1)", pq.Array(valid))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(cnt), nil
}

// orderBy renders ordering, dropping the fields missing from allowed.
func orderBy(ordering []core.DBOrdering, allowed []string, fallback string) string {
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		for _, a := range allowed {
			if ord.Field == a {
				list = append(list, ord.String())
				break
			}
		}
	}
	if len(list) == 0 {
		return fallback
	}
	return strings.Join(list, ", ")
}
