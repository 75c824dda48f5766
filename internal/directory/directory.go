package directory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"direct-chat/internal/message"
)

// Lister fetches the user listing.
type Lister interface {
	Users(ctx context.Context) ([]message.User, error)
}

// Directory caches the peers the local user can talk to.
type Directory struct {
	api  Lister
	self func() int64

	mu      sync.RWMutex
	users   []message.User
	fetched time.Time
}

func New(api Lister, self func() int64) *Directory {
	return &Directory{api: api, self: self}
}

// Refresh replaces the cached listing wholesale. The local user is left out
// even if the server includes it.
func (d *Directory) Refresh(ctx context.Context) ([]message.User, error) {
	users, err := d.api.Users(ctx)
	if err != nil {
		return nil, err
	}
	self := d.self()
	list := make([]message.User, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		list = append(list, u)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].DisplayName()) < strings.ToLower(list[j].DisplayName())
	})
	d.mu.Lock()
	d.users = list
	d.fetched = time.Now()
	d.mu.Unlock()
	return d.List(), nil
}

// List returns a copy of the cached listing.
func (d *Directory) List() []message.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]message.User, len(d.users))
	copy(out, d.users)
	return out
}

// Fetched reports when the listing was last refreshed. It is zero before the
// first refresh and after Clear.
func (d *Directory) Fetched() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fetched
}

// Clear forgets the listing, e.g. on logout.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.users = nil
	d.fetched = time.Time{}
	d.mu.Unlock()
}

// Lookup resolves ref as a numeric id, an email or a display name, ignoring
// case. A leading '#' on an id is accepted.
func (d *Directory) Lookup(ref string) (message.User, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return message.User{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, err := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64); err == nil {
		for _, u := range d.users {
			if u.ID == id {
				return u, true
			}
		}
	}
	for _, u := range d.users {
		if strings.EqualFold(u.Email, ref) || strings.EqualFold(u.DisplayName(), ref) {
			return u, true
		}
	}
	return message.User{}, false
}

// Name returns the display name for id, or "#id" when unknown.
func (d *Directory) Name(id int64) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ID == id {
			return u.DisplayName()
		}
	}
	return "#" + strconv.FormatInt(id, 10)
}
