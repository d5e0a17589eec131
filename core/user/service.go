package user

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/schema"
)

// maxFailedLogins consecutive failures raise a security alert.
const maxFailedLogins = 5

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrForbidden          = errors.New("permission denied")

	errNoPermsToSetRole = "not enough rights to set this role"
)

type (
	Repository interface {
		// IsAvailable reports whether no user other than excludedID has field (username|email) set to value.
		IsAvailable(ctx context.Context, field, value, excludedID string) (bool, error)
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string) (int, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, actor User, values schema.Values) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Authenticate(ctx context.Context, uname, pwd string) (User, error)
		Update(ctx context.Context, actor User, id string, values schema.Values) (User, error)
		Delete(ctx context.Context, actor User, ids ...string) (int, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
		SubmitCreate(ctx context.Context, values schema.Values) error
	}

	Deps struct {
		Conf      *core.Config
		Repo      Repository
		Validator *schema.Validator
		Mail      core.EmailService
		Audit     *audit.Logger
		Notifier  *notify.Dispatcher
		Logger    core.Logger
	}

	Service struct {
		conf      *core.Config
		repo      Repository
		validator *schema.Validator
		mailSvc   core.EmailService
		auditLog  *audit.Logger
		notifier  *notify.Dispatcher
		logger    core.Logger
		tokens    tokenGenerator

		mu           sync.Mutex
		failedLogins map[string]int
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(deps Deps) *Service {
	return &Service{
		conf:         deps.Conf,
		repo:         deps.Repo,
		validator:    deps.Validator,
		mailSvc:      deps.Mail,
		auditLog:     deps.Audit,
		notifier:     deps.Notifier,
		logger:       deps.Logger,
		tokens:       newTokenGenerator(deps.Conf.SecretKey, deps.Conf.PasswordResetTimeoutDelta),
		failedLogins: make(map[string]int),
	}
}

func (svc *Service) usernameAvailable(excludedID string) schema.UniqueFunc {
	return func(ctx context.Context, value interface{}) (bool, error) {
		s, _ := value.(string)
		return svc.repo.IsAvailable(ctx, "username", s, excludedID)
	}
}

func (svc *Service) emailAvailable(excludedID string) schema.UniqueFunc {
	return func(ctx context.Context, value interface{}) (bool, error) {
		s, _ := value.(string)
		return svc.repo.IsAvailable(ctx, "email", s, excludedID)
	}
}

// validate returns the cleaned values, or a *core.ValidationError.
func (svc *Service) validate(ctx context.Context, s *schema.Schema, values schema.Values) (schema.Values, error) {
	cleaned, errs, err := svc.validator.ValidateAllContext(ctx, s, values)
	if err != nil {
		return nil, errors.Wrap(err, "validating "+s.Name())
	}
	if len(errs) > 0 {
		return nil, core.NewValidationError(nil, errs)
	}
	return cleaned, nil
}

func (svc *Service) Create(ctx context.Context, actor User, values schema.Values) (User, error) {
	cleaned, err := svc.validate(ctx, svc.createSchema(), values)
	if err != nil {
		return User{}, err
	}

	role, _ := cleaned["role"].(string)
	// actor cannot grant a role above their own
	if RolePriority(role) > RolePriority(actor.Role) {
		return User{}, core.NewFieldError("role", errNoPermsToSetRole)
	}

	now := time.Now().UTC()
	usr := User{
		Name:        str(cleaned, "name"),
		Username:    str(cleaned, "username"),
		Email:       str(cleaned, "email"),
		Phone:       str(cleaned, "phone"),
		Department:  str(cleaned, "department"),
		Role:        role,
		Status:      StatusActive,
		Permissions: DefaultPermissions(role),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = usr.SetPassword(str(cleaned, "password")); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err = svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.auditLog.LogChange(ctx, audit.Change{
		Actor:    actor.Actor(),
		Target:   usr.Target(),
		Action:   "user_create",
		Category: audit.CategoryProfile,
		Field:    "role",
		NewValue: usr.Role,
	})
	return usr, nil
}

// SubmitCreate creates a user on behalf of the user carried by ctx. It serves the "user" form.
func (svc *Service) SubmitCreate(ctx context.Context, values schema.Values) error {
	actor, ok := FromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	_, err := svc.Create(ctx, actor, values)
	return err
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// Authenticate checks the credentials of a user & records their login.
// Repeated failures for the same account raise a security alert.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		svc.loginFailed(ctx, usr)
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive() {
		return User{}, ErrAccountDeactivated
	}

	svc.mu.Lock()
	delete(svc.failedLogins, usr.ID)
	svc.mu.Unlock()

	usr.LastLogin = time.Now().UTC()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	return usr, errors.Wrap(err, "setting lastLogin")
}

func (svc *Service) loginFailed(ctx context.Context, usr User) {
	svc.mu.Lock()
	svc.failedLogins[usr.ID]++
	attempts := svc.failedLogins[usr.ID]
	svc.mu.Unlock()

	if attempts%maxFailedLogins != 0 {
		return
	}
	_, err := svc.notifier.SendSecurityAlert(ctx, notify.SystemActor, "Repeated failed logins",
		fmt.Sprintf("%d consecutive failed login attempts on the account of %s", attempts, usr.DisplayName()),
		map[string]interface{}{"userId": usr.ID, "attempts": attempts},
	)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending security alert: %v", err), err)
	}
}

// Update applies the fields set in values to the user id.
// Only admins may change the username, email, role, status or permissions of a user.
func (svc *Service) Update(ctx context.Context, actor User, id string, values schema.Values) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if !actor.IsAdmin() {
		for _, field := range []string{"username", "email", "role", "status", "permissions"} {
			if _, ok := values[field]; ok {
				return User{}, ErrForbidden
			}
		}
	}

	cleaned, err := svc.validate(ctx, svc.updateSchema(usr), values)
	if err != nil {
		return User{}, err
	}
	reason := str(cleaned, "reason")
	prev := usr

	var changed []string
	for _, field := range []struct {
		name string
		ptr  *string
	}{
		{"name", &usr.Name},
		{"username", &usr.Username},
		{"email", &usr.Email},
		{"phone", &usr.Phone},
		{"department", &usr.Department},
	} {
		if v, ok := cleaned[field.name].(string); ok && v != *field.ptr {
			*field.ptr = v
			changed = append(changed, field.name)
		}
	}
	if pwd := str(cleaned, "password"); pwd != "" {
		if err = usr.SetPassword(pwd); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
		changed = append(changed, "password")
	}

	if role := str(cleaned, "role"); role != "" && role != usr.Role {
		// actor cannot grant a role above their own, nor demote someone above them
		if RolePriority(role) > RolePriority(actor.Role) || RolePriority(usr.Role) > RolePriority(actor.Role) {
			return User{}, core.NewFieldError("role", errNoPermsToSetRole)
		}
		usr.Role = role
		usr.Permissions = DefaultPermissions(role)
	}
	if perms, ok := cleaned["permissions"].([]string); ok {
		usr.Permissions = normalizePermissions(perms)
	}
	if status := str(cleaned, "status"); status != "" {
		usr.Status = status
	}

	permsChanged := !equalStrings(prev.Permissions, usr.Permissions) || prev.Role != usr.Role
	if len(changed) == 0 && !permsChanged && prev.Status == usr.Status {
		return usr, nil
	}

	usr.UpdatedAt = time.Now().UTC()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}

	svc.recordUpdate(ctx, actor, prev, usr, changed, reason)
	return usr, nil
}

// recordUpdate audits every change made to a user & notifies them.
func (svc *Service) recordUpdate(ctx context.Context, actor, prev, usr User, changed []string, reason string) {
	act, target := actor.Actor(), usr.Target()
	fieldValue := map[string][2]string{
		"name":       {prev.Name, usr.Name},
		"username":   {prev.Username, usr.Username},
		"email":      {prev.Email, usr.Email},
		"phone":      {prev.Phone, usr.Phone},
		"department": {prev.Department, usr.Department},
	}
	for _, field := range changed {
		if field == "password" {
			svc.auditLog.LogProfileUpdate(ctx, act, target, field, nil, nil, reason)
			continue
		}
		v := fieldValue[field]
		svc.auditLog.LogProfileUpdate(ctx, act, target, field, v[0], v[1], reason)
	}
	if len(changed) > 0 {
		severity := notify.SeverityLow
		if contains(changed, "email") || contains(changed, "password") {
			severity = notify.SeverityCritical
		}
		_, err := svc.notifier.SendProfileChangeAlert(ctx, actor.notifyActor(), usr.notifyTarget(), changed, severity)
		svc.logNotifyErr(err)
	}

	if prev.Role != usr.Role || !equalStrings(prev.Permissions, usr.Permissions) {
		svc.auditLog.LogPermissionUpdate(ctx, act, target, prev.Permissions, usr.Permissions, reason)
		added, removed := audit.Diff(prev.Permissions, usr.Permissions)
		_, err := svc.notifier.SendPermissionChangeAlert(ctx, actor.notifyActor(), usr.notifyTarget(), added, removed)
		svc.logNotifyErr(err)
	}

	if prev.Status != usr.Status {
		svc.auditLog.LogStatusUpdate(ctx, act, target, prev.Status, usr.Status, reason)
		_, err := svc.notifier.SendStatusChangeAlert(ctx, actor.notifyActor(), usr.notifyTarget(), prev.Status, usr.Status)
		svc.logNotifyErr(err)
	}
}

// Delete deletes the users ids. Deleting many users at once is audited as a bulk operation.
func (svc *Service) Delete(ctx context.Context, actor User, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var target User
	if len(ids) == 1 {
		usr, err := svc.GetByID(ctx, ids[0])
		if err != nil {
			return 0, errors.Wrap(err, "finding user by ID")
		}
		target = usr
	}

	cnt, err := svc.repo.DeleteUsersByID(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}

	if len(ids) == 1 {
		svc.auditLog.LogChange(ctx, audit.Change{
			Actor:    actor.Actor(),
			Target:   target.Target(),
			Action:   "user_delete",
			Category: audit.CategoryStatus,
			Field:    "status",
			OldValue: target.Status,
			NewValue: "deleted",
		})
		return cnt, nil
	}

	svc.auditLog.LogBulkOperation(ctx, actor.Actor(), "delete", ids, "")
	_, err = svc.notifier.SendBulkOperationAlert(ctx, actor.notifyActor(), "delete", cnt)
	svc.logNotifyErr(err)
	return cnt, nil
}

// RequestPasswordReset emails a password reset link to the active user owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return errors.Wrap(err, "finding user by email")
	}
	if !usr.IsActive() {
		return ErrNotFound
	}
	token, err := svc.tokens.makeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.DisplayName(),
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken, nil)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken, nil)
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err, nil)
	}

	if msg := PasswordError(usr, data.Password); msg != "" {
		return core.NewFieldError("password", msg)
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	svc.auditLog.LogProfileUpdate(ctx, usr.Actor(), usr.Target(), "password", nil, nil, "password reset")
	return nil
}

// notification failures do not undo the change they report
func (svc *Service) logNotifyErr(err error) {
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending notification: %v", err), err)
	}
}

func str(values schema.Values, key string) string {
	s, _ := values[key].(string)
	return s
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
