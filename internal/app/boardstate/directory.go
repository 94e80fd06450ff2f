package boardstate

import (
	"sort"
	"strings"
	"sync"

	"github.com/todo-1m/board/internal/contracts"
)

// Directory is the read-only list of users a task can be assigned to.
type Directory struct {
	mu    sync.RWMutex
	users []contracts.User
	byID  map[string]contracts.User
}

func NewDirectory() *Directory {
	return &Directory{byID: map[string]contracts.User{}}
}

// Replace installs users sorted by email.
func (d *Directory) Replace(users []contracts.User) {
	sorted := make([]contracts.User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Email) < strings.ToLower(sorted[j].Email)
	})
	byID := make(map[string]contracts.User, len(sorted))
	for _, u := range sorted {
		byID[u.ID] = u
	}

	d.mu.Lock()
	d.users = sorted
	d.byID = byID
	d.mu.Unlock()
}

func (d *Directory) Lookup(id string) (contracts.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	return u, ok
}

func (d *Directory) List() []contracts.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]contracts.User, len(d.users))
	copy(out, d.users)
	return out
}
