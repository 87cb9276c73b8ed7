package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"member-registry/internal/domain"
	"member-registry/internal/notify"
	"member-registry/internal/repository"
	"member-registry/internal/storage"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User

	calls      int
	creates    int
	setErr     error
	getByIDErr error
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]domain.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.creates++
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.getByIDErr != nil {
		return nil, r.getByIDErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, u := range r.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := []domain.User{}
	for _, u := range r.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.PendingReferral && u.FullyReferred() {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeUserRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return int64(len(r.users)), nil
}

func (r *fakeUserRepo) CountByProfileImage(_ context.Context, objectURL string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var n int64
	for _, u := range r.users {
		if u.ProfileImage == objectURL {
			n++
		}
	}
	return n, nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	stored, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	next := *user
	next.Referrer1, next.Referrer2 = stored.Referrer1, stored.Referrer2
	next.Referred1, next.Referred2 = stored.Referred1, stored.Referred2
	next.PasswordHash = stored.PasswordHash
	r.users[user.ID] = next
	return nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	r.users[id] = u
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) SetReferral(_ context.Context, upd repository.ReferralUpdate) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.setErr != nil {
		return nil, r.setErr
	}
	u, ok := r.users[upd.UserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.ReferrerIdentifier(upd.Slot) != upd.RefereeID || upd.RefereeID == "" {
		return nil, repository.ErrConflict
	}
	if upd.Slot == domain.SlotFirst {
		u.Referred1 = upd.Approved
	} else {
		u.Referred2 = upd.Approved
	}
	if upd.AutoActivate {
		switch {
		case !upd.Approved:
			u.MembershipStatus = domain.MembershipInactive
		case u.FullyReferred():
			u.MembershipStatus = domain.MembershipActive
		}
	}
	r.users[u.ID] = u
	return &u, nil
}

func (r *fakeUserRepo) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *fakeUserRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items []domain.Notification
	err   error
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, *n)
	return nil
}

func (r *fakeNotificationRepo) ListByUser(_ context.Context, userID string) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Notification{}
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].UserID == userID {
			out = append(out, r.items[i])
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id && r.items[i].UserID == userID {
			r.items[i].Read = true
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *fakeAuditRepo) Create(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.AuditEntry{}
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *fakeAuditRepo) details() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Detail)
	}
	return out
}

type fakeStorage struct {
	mu        sync.Mutex
	uploads   []string
	deletes   []string
	deleteErr error
}

func (s *fakeStorage) Upload(_ context.Context, filename string, body io.Reader, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	s.uploads = append(s.uploads, filename)
	return "https://cdn.test/profiles/" + filename, nil
}

func (s *fakeStorage) Delete(_ context.Context, objectURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, objectURL)
	return s.deleteErr
}

func (s *fakeStorage) ListObjects(_ context.Context, _ string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []storage.ObjectInfo{}
	for _, name := range s.uploads {
		out = append(out, storage.ObjectInfo{Key: "profiles/" + name})
	}
	return out, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	delivered  []notify.Email
	enqueued   []notify.Email
	deliverErr error
}

func (d *fakeDispatcher) Start(context.Context) error { return nil }
func (d *fakeDispatcher) Shutdown()                   {}

func (d *fakeDispatcher) Deliver(_ context.Context, email notify.Email) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, email)
	return d.deliverErr
}

func (d *fakeDispatcher) Enqueue(_ context.Context, email notify.Email) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, email)
	return nil
}

var errBoom = errors.New("boom")
