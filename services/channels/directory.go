// Package channels delivers notification payloads on the in-app, email, push & sms channels.
package channels

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/user"
)

type (
	Contact struct {
		ID    string
		Name  string
		Email string
		Phone string
	}

	// Directory resolves the recipients of a payload.
	// Payloads without recipients are addressed to the administrators.
	Directory interface {
		Contacts(ctx context.Context, recipients []string) ([]Contact, error)
	}
)

// UserDirectory resolves recipients from the active users.
type UserDirectory struct {
	users user.ServiceInterface
}

var _ Directory = (*UserDirectory)(nil)

func NewUserDirectory(users user.ServiceInterface) *UserDirectory {
	return &UserDirectory{users: users}
}

func (d *UserDirectory) Contacts(ctx context.Context, recipients []string) ([]Contact, error) {
	var users []user.User
	if len(recipients) == 0 {
		admins, err := d.users.Query(ctx, &user.QueryFilter{Roles: user.AdminRoles, Statuses: []string{user.StatusActive}}, nil)
		if err != nil {
			return nil, errors.Wrap(err, "querying admins")
		}
		users = admins
	} else {
		for _, id := range recipients {
			usr, err := d.users.GetByID(ctx, id)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					continue
				}
				return nil, errors.Wrap(err, "finding recipient")
			}
			if usr.IsActive() {
				users = append(users, usr)
			}
		}
	}

	contacts := make([]Contact, 0, len(users))
	for _, usr := range users {
		contacts = append(contacts, Contact{ID: usr.ID, Name: usr.DisplayName(), Email: usr.Email, Phone: usr.Phone})
	}
	return contacts, nil
}
