package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"member-registry/internal/domain"
	"member-registry/internal/idx"
	"member-registry/internal/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func newUser(id, email string) *domain.User {
	return &domain.User{
		ID:               id,
		MembershipID:     "MBR-" + id,
		Email:            email,
		PasswordHash:     "hash",
		Profile:          domain.Profile{Company: "Acme", ProfileImage: "https://cdn/a.png"},
		Role:             domain.RoleUser,
		MembershipStatus: domain.MembershipInactive,
		MembershipFee:    domain.FeeUnpaid,
		Referrer1:        "a@x.com",
		Referrer2:        "b@x.com",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))
}

func TestUserRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	u := newUser("u1", "applicant@x.com")
	require.NoError(t, repo.Create(ctx, u))
	require.False(t, u.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "applicant@x.com", got.Email)
	require.Equal(t, "Acme", got.Company)
	require.Equal(t, "a@x.com", got.Referrer1)
	require.False(t, got.Referred1)

	byEmail, err := repo.GetByEmail(ctx, "applicant@x.com")
	require.NoError(t, err)
	require.Equal(t, "u1", byEmail.ID)

	got.Company = "Globex"
	got.Referrer1 = "ignored@x.com"
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Globex", got.Company)
	require.Equal(t, "a@x.com", got.Referrer1)

	require.NoError(t, repo.UpdatePasswordHash(ctx, "u1", "new-hash"))
	got, err = repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.NoError(t, repo.Delete(ctx, "u1"))
	_, err = repo.GetByID(ctx, "u1")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "u1"), repository.ErrNotFound)
}

func TestUserRepositoryDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	require.NoError(t, repo.Create(ctx, newUser("u1", "dup@x.com")))
	err := repo.Create(ctx, newUser("u2", "dup@x.com"))
	require.ErrorIs(t, err, repository.ErrConflict)
}

func TestUserRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	pending := newUser(idx.New(), "p@x.com")
	done := newUser(idx.New(), "d@x.com")
	done.Referred1, done.Referred2 = true, true
	admin := newUser(idx.New(), "admin@x.com")
	admin.Role = domain.RoleAdmin
	for _, u := range []*domain.User{pending, done, admin} {
		require.NoError(t, repo.Create(ctx, u))
	}

	all, err := repo.List(ctx, repository.UserFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	list, err := repo.List(ctx, repository.UserFilter{Role: domain.RoleUser, PendingReferral: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, pending.ID, list[0].ID)
}

func TestSetReferralConfirmFirstSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	require.NoError(t, repo.Create(ctx, newUser("u1", "applicant@x.com")))

	u, err := repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "u1", RefereeID: "a@x.com", Slot: domain.SlotFirst, Approved: true, AutoActivate: true,
	})
	require.NoError(t, err)
	require.True(t, u.Referred1)
	require.False(t, u.Referred2)
	require.Equal(t, domain.MembershipInactive, u.MembershipStatus)

	u, err = repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "u1", RefereeID: "b@x.com", Slot: domain.SlotSecond, Approved: true, AutoActivate: true,
	})
	require.NoError(t, err)
	require.True(t, u.FullyReferred())
	require.Equal(t, domain.MembershipActive, u.MembershipStatus)
}

func TestSetReferralRejectDeactivates(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	seed := newUser("u1", "applicant@x.com")
	seed.Referred1, seed.Referred2 = true, true
	seed.MembershipStatus = domain.MembershipActive
	require.NoError(t, repo.Create(ctx, seed))

	u, err := repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "u1", RefereeID: "b@x.com", Slot: domain.SlotSecond, Approved: false, AutoActivate: true,
	})
	require.NoError(t, err)
	require.True(t, u.Referred1)
	require.False(t, u.Referred2)
	require.Equal(t, domain.MembershipInactive, u.MembershipStatus)
}

func TestSetReferralWithoutAutoActivateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	seed := newUser("u1", "applicant@x.com")
	seed.Referred2 = true
	require.NoError(t, repo.Create(ctx, seed))

	u, err := repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "u1", RefereeID: "a@x.com", Slot: domain.SlotFirst, Approved: true,
	})
	require.NoError(t, err)
	require.True(t, u.FullyReferred())
	require.Equal(t, domain.MembershipInactive, u.MembershipStatus)
}

func TestSetReferralCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	require.NoError(t, repo.Create(ctx, newUser("u1", "applicant@x.com")))

	_, err := repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "u1", RefereeID: "b@x.com", Slot: domain.SlotFirst, Approved: true,
	})
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.SetReferral(ctx, repository.ReferralUpdate{
		UserID: "missing", RefereeID: "a@x.com", Slot: domain.SlotFirst, Approved: true,
	})
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.SetReferral(ctx, repository.ReferralUpdate{UserID: "u1", RefereeID: "a@x.com"})
	require.ErrorIs(t, err, repository.ErrConflict)

	u, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.False(t, u.Referred1)
	require.False(t, u.Referred2)
}

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewNotificationRepository(db)
	require.NoError(t, users.Create(ctx, newUser("u1", "applicant@x.com")))

	first := &domain.Notification{ID: idx.New(), UserID: "u1", Kind: domain.NotificationReferralConfirmed, Message: "one"}
	second := &domain.Notification{ID: idx.New(), UserID: "u1", Kind: domain.NotificationReferralRejected, Message: "two"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "two", list[0].Message)
	require.False(t, list[0].Read)

	require.NoError(t, repo.MarkRead(ctx, first.ID, "u1"))
	require.ErrorIs(t, repo.MarkRead(ctx, first.ID, "someone-else"), repository.ErrNotFound)

	list, err = repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.True(t, list[1].Read)

	require.NoError(t, users.Delete(ctx, "u1"))
	list, err = repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepository(openTestDB(t))

	for _, detail := range []string{"a@x.com edited Acme", "a@x.com deleted Acme"} {
		require.NoError(t, repo.Create(ctx, &domain.AuditEntry{
			ID: idx.New(), Entity: "user", Actor: "a@x.com", Action: domain.AuditEdited, Detail: detail,
		}))
	}

	entries, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a@x.com deleted Acme", entries[0].Detail)

	entries, err = repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestCountByProfileImage(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	require.NoError(t, repo.Create(ctx, newUser("u1", "one@x.com")))
	require.NoError(t, repo.Create(ctx, newUser("u2", "two@x.com")))

	n, err := repo.CountByProfileImage(ctx, "https://cdn/a.png")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, repo.Delete(ctx, "u1"))
	n, err = repo.CountByProfileImage(ctx, "https://cdn/a.png")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = repo.CountByProfileImage(ctx, "https://cdn/other.png")
	require.NoError(t, err)
	require.Zero(t, n)
}
