// Package inmemdb holds in-memory repositories used in DEV & TEST when no database is configured.
package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.users))
	for _, u := range repo.db.users {
		users = append(users, copyUser(*u))
	}
	return users
}

func (repo *userRepository) IsAvailable(_ context.Context, field, value, excludedID string) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, usr := range repo.db.users {
		if usr.ID == excludedID {
			continue
		}
		switch field {
		case "username":
			if value != "" && usr.Username == value {
				return false, nil
			}
		case "email":
			if value != "" && usr.Email == value {
				return false, nil
			}
		}
	}
	return true, nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	usr.ID = uuid.NewString()
	stored := copyUser(usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mu.RLock()
	all := repo.query()
	repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(all))
	for _, usr := range all {
		if filter.Match(usr) {
			users = append(users, usr)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(users, func(i, j int) bool { return less(users[i], users[j], ordering) })
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, usr := range repo.db.users {
		var match bool
		switch {
		case filter.ID != "":
			match = usr.ID == filter.ID
		case filter.Username != "":
			match = usr.Username == filter.Username
		case filter.Email != "":
			match = usr.Email == filter.Email
		case filter.UsernameOrEmail != "":
			match = usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail
		}
		if match {
			return copyUser(*usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	stored := copyUser(usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	return repo.UpdateUser(ctx, usr)
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.users[id]; ok {
			delete(repo.db.users, id)
			cnt++
		}
	}
	return cnt, nil
}

func copyUser(usr user.User) user.User {
	usr.Permissions = append([]string(nil), usr.Permissions...)
	usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	return usr
}

// less compares a & b field by field. Unknown fields are ignored.
func less(a, b user.User, ordering []core.DBOrdering) bool {
	for _, ord := range ordering {
		var cmp int
		switch ord.Field {
		case "name":
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case "username":
			cmp = strings.Compare(a.Username, b.Username)
		case "email":
			cmp = strings.Compare(a.Email, b.Email)
		case "role":
			cmp = user.RolePriority(a.Role) - user.RolePriority(b.Role)
		case "status":
			cmp = strings.Compare(a.Status, b.Status)
		case "created_at":
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		case "last_login":
			cmp = a.LastLogin.Compare(b.LastLogin)
		}
		if cmp == 0 {
			continue
		}
		if ord.Ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	return false
}
