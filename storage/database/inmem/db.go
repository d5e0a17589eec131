package inmemdb

import (
	"sync"

	"github.com/trezcool/chuo/core/user"
)

type DB struct {
	mu    sync.RWMutex
	users map[string]*user.User
}

func Open() *DB {
	return &DB{users: make(map[string]*user.User)}
}

// Reset drops every row. Used by tests.
func (db *DB) Reset() {
	db.mu.Lock()
	db.users = make(map[string]*user.User)
	db.mu.Unlock()
}
