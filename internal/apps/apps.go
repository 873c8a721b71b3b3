// Package apps maps UIDs to application names.
package apps

import (
	"os/user"
	"strconv"
	"sync"
)

// Resolver names a UID from configured labels, then from the system user
// database.
type Resolver struct {
	labels map[int]string
	lookup func(uid string) (*user.User, error)

	mu    sync.Mutex
	cache map[int]string
}

// NewResolver creates a Resolver with the given labels.
func NewResolver(labels map[int]string) *Resolver {
	return &Resolver{
		labels: labels,
		lookup: user.LookupId,
		cache:  make(map[int]string),
	}
}

// NameByUID implements records.AppNameResolver.
func (r *Resolver) NameByUID(uid int) (string, bool) {
	if name, ok := r.labels[uid]; ok {
		return name, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.cache[uid]; ok {
		return name, name != ""
	}

	name := ""
	if u, err := r.lookup(strconv.Itoa(uid)); err == nil {
		name = u.Username
	}
	r.cache[uid] = name
	return name, name != ""
}
