package user

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/notify"
)

// Roles
const (
	RoleAdmin     = "admin"
	RolePrincipal = "principal"
	RoleFaculty   = "faculty"
	RoleEmployee  = "employee"
	RoleStudent   = "student"
)

// Statuses
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusGraduated = "graduated"
)

var (
	AdminRoles = []string{RoleAdmin, RolePrincipal}
	AllRoles   = []string{RoleAdmin, RolePrincipal, RoleFaculty, RoleEmployee, RoleStudent}
	Statuses   = []string{StatusActive, StatusInactive, StatusSuspended, StatusGraduated}

	// Orderings are the fields users may be ordered by.
	Orderings = []string{"name", "username", "email", "role", "status", "created_at", "last_login"}

	rolePriorities = map[string]int{
		RoleAdmin:     30,
		RolePrincipal: 29,
		RoleFaculty:   20,
		RoleEmployee:  11,
		RoleStudent:   1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Employee", Value: RoleEmployee},
		{Name: "Faculty", Value: RoleFaculty},
		{Name: "Principal", Value: RolePrincipal},
		{Name: "Admin", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	Phone        string    `json:"phone,omitempty" db:"phone"`
	Department   string    `json:"department,omitempty" db:"department"`
	Role         string    `json:"role" db:"role"`
	Status       string    `json:"status" db:"status"`
	Permissions  []string  `json:"permissions" db:"-"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login" db:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsActive() bool { return u.Status == StatusActive }

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RolePrincipal
}

func (u User) IsFaculty() bool  { return u.Role == RoleFaculty }
func (u User) IsEmployee() bool { return u.Role == RoleEmployee }
func (u User) IsStudent() bool  { return u.Role == RoleStudent }

// Actor returns u as the author of an audited change.
func (u User) Actor() audit.Actor {
	return audit.Actor{ID: u.ID, Name: u.DisplayName(), Role: u.Role}
}

// Target returns u as the subject of an audited change.
func (u User) Target() audit.Target {
	return audit.Target{ID: u.ID, Name: u.DisplayName()}
}

func (u User) notifyActor() notify.Actor {
	return notify.Actor{ID: u.ID, Name: u.DisplayName()}
}

func (u User) notifyTarget() notify.Target {
	return notify.Target{ID: u.ID, Name: u.DisplayName()}
}

func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying the logged-in user.
func WithUser(ctx context.Context, usr User) context.Context {
	return context.WithValue(ctx, ctxKey{}, usr)
}

// FromContext returns the logged-in user carried by ctx.
func FromContext(ctx context.Context) (User, bool) {
	usr, ok := ctx.Value(ctxKey{}).(User)
	return usr, ok
}

// GetFilter selects a single user. The first non-empty field is used.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	Statuses    []string  `query:"status"`
	Department  string    `query:"department"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.Statuses == nil && qf.Department == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Department = core.CleanString(qf.Department)
}

// Match reports whether usr satisfies every set field of qf. Used by in-memory repositories.
func (qf *QueryFilter) Match(usr User) bool {
	if qf == nil {
		return true
	}
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !(strings.Contains(strings.ToLower(usr.Name), s) ||
			strings.Contains(usr.Username, s) ||
			strings.Contains(usr.Email, s)) {
			return false
		}
	}
	if len(qf.Roles) > 0 && !contains(qf.Roles, usr.Role) {
		return false
	}
	if len(qf.Statuses) > 0 && !contains(qf.Statuses, usr.Status) {
		return false
	}
	if qf.Department != "" && !strings.EqualFold(qf.Department, usr.Department) {
		return false
	}
	if !qf.CreatedFrom.IsZero() && usr.CreatedAt.Before(qf.CreatedFrom.UTC()) {
		return false
	}
	if !qf.CreatedTo.IsZero() && usr.CreatedAt.After(qf.CreatedTo.UTC()) {
		return false
	}
	return true
}

// ResetUserPassword is the payload of a password reset confirmation.
type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
