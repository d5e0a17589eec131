package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, role, pwd string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if user.RolePriority(role) == 0 {
		return core.NewFieldError("role", "role must be one of: "+strings.Join(user.AllRoles, ", "))
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname})
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: email})
	}
	switch {
	case errors.Cause(err) == user.ErrNotFound:
		usr = user.User{CreatedAt: now}
	case err != nil:
		return err
	}

	usr.Username = uname
	usr.Email = email
	if name != "" {
		usr.Name = name
	}
	if usr.Name == "" {
		usr.Name = uname
	}
	usr.Role = role
	usr.Permissions = user.DefaultPermissions(role)
	usr.Status = user.StatusActive
	usr.UpdatedAt = now

	if msg := user.PasswordError(usr, pwd); msg != "" {
		return core.NewFieldError("password", msg)
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s saved (%s)\n", usr.Username, usr.Role)
	return nil
}
