package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"member-registry/internal/domain"
	"member-registry/internal/repository"
)

const userColumns = `id, membership_id, email, password_hash,
	company, biz_nature, company_coi_url, phone, address, trade_group, annual_return, annual_profit, employees,
	rep_name1, rep_phone1, rep_email1, rep_passport_url1, rep_cv_url1,
	rep_name2, rep_phone2, rep_email2, rep_passport_url2, rep_cv_url2,
	profile_image, role, membership_status, membership_fee, membership_plan,
	referrer1, referrer2, referred1, referred2, created_at, updated_at`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.MembershipID,
		user.Email,
		user.PasswordHash,
		user.Company,
		user.BizNature,
		user.CompanyCOIURL,
		user.Phone,
		user.Address,
		user.TradeGroup,
		user.AnnualReturn,
		user.AnnualProfit,
		user.Employees,
		user.RepName1,
		user.RepPhone1,
		user.RepEmail1,
		user.RepPassportURL1,
		user.RepCVURL1,
		user.RepName2,
		user.RepPhone2,
		user.RepEmail2,
		user.RepPassportURL2,
		user.RepCVURL2,
		user.ProfileImage,
		string(user.Role),
		string(user.MembershipStatus),
		string(user.MembershipFee),
		user.MembershipPlan,
		user.Referrer1,
		user.Referrer2,
		boolToInt(user.Referred1),
		boolToInt(user.Referred2),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user already exists: %w", repository.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *UserRepository) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	var (
		where []string
		args  []any
	)
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.PendingReferral {
		where = append(where, "(referred1 = 0 OR referred2 = 0)")
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) CountByProfileImage(ctx context.Context, objectURL string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE profile_image = ?`, objectURL).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count profile image references: %w", err)
	}
	return count, nil
}

// Update persists every mutable column. Referrer identifiers and referral
// flags are not written here; SetReferral owns them.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET email=?, company=?, biz_nature=?, company_coi_url=?, phone=?, address=?, trade_group=?, annual_return=?, annual_profit=?, employees=?,
	rep_name1=?, rep_phone1=?, rep_email1=?, rep_passport_url1=?, rep_cv_url1=?,
	rep_name2=?, rep_phone2=?, rep_email2=?, rep_passport_url2=?, rep_cv_url2=?,
	profile_image=?, role=?, membership_status=?, membership_fee=?, membership_plan=?, updated_at=?
WHERE id=?`,
		user.Email,
		user.Company,
		user.BizNature,
		user.CompanyCOIURL,
		user.Phone,
		user.Address,
		user.TradeGroup,
		user.AnnualReturn,
		user.AnnualProfit,
		user.Employees,
		user.RepName1,
		user.RepPhone1,
		user.RepEmail1,
		user.RepPassportURL1,
		user.RepCVURL1,
		user.RepName2,
		user.RepPhone2,
		user.RepEmail2,
		user.RepPassportURL2,
		user.RepCVURL2,
		user.ProfileImage,
		string(user.Role),
		string(user.MembershipStatus),
		string(user.MembershipFee),
		user.MembershipPlan,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email already in use: %w", repository.ErrConflict)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res, "user")
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET password_hash=?, updated_at=?
WHERE id=?`,
		hash,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireAffected(res, "user")
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, "user")
}

func (r *UserRepository) SetReferral(ctx context.Context, upd repository.ReferralUpdate) (*domain.User, error) {
	var flagColumn, referrerColumn string
	switch upd.Slot {
	case domain.SlotFirst:
		flagColumn, referrerColumn = "referred1", "referrer1"
	case domain.SlotSecond:
		flagColumn, referrerColumn = "referred2", "referrer2"
	default:
		return nil, fmt.Errorf("invalid referrer slot %d: %w", upd.Slot, repository.ErrConflict)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE users
SET %s=?, updated_at=?
WHERE id=? AND %s=?`, flagColumn, referrerColumn),
		boolToInt(upd.Approved),
		now,
		upd.UserID,
		upd.RefereeID,
	)
	if err != nil {
		return nil, fmt.Errorf("update referral flag: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("referral rows affected: %w", err)
	}
	if aff == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, upd.UserID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user")
		}
		if err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		return nil, fmt.Errorf("referee no longer assigned to slot: %w", repository.ErrConflict)
	}

	if upd.AutoActivate {
		statusQuery := `
UPDATE users
SET membership_status = CASE WHEN referred1 = 1 AND referred2 = 1 THEN ? ELSE membership_status END
WHERE id=?`
		statusArgs := []any{string(domain.MembershipActive), upd.UserID}
		if !upd.Approved {
			statusQuery = `UPDATE users SET membership_status = ? WHERE id=?`
			statusArgs = []any{string(domain.MembershipInactive), upd.UserID}
		}
		if _, err := tx.ExecContext(ctx, statusQuery, statusArgs...); err != nil {
			return nil, fmt.Errorf("update membership status: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, upd.UserID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit referral update: %w", err)
	}
	return user, nil
}

func requireAffected(res sql.Result, entity string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", entity, err)
	}
	if aff == 0 {
		return notFound(entity)
	}
	return nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user             domain.User
		role             string
		membershipStatus string
		membershipFee    string
		createdAt        time.Time
		updatedAt        time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.MembershipID,
		&user.Email,
		&user.PasswordHash,
		&user.Company,
		&user.BizNature,
		&user.CompanyCOIURL,
		&user.Phone,
		&user.Address,
		&user.TradeGroup,
		&user.AnnualReturn,
		&user.AnnualProfit,
		&user.Employees,
		&user.RepName1,
		&user.RepPhone1,
		&user.RepEmail1,
		&user.RepPassportURL1,
		&user.RepCVURL1,
		&user.RepName2,
		&user.RepPhone2,
		&user.RepEmail2,
		&user.RepPassportURL2,
		&user.RepCVURL2,
		&user.ProfileImage,
		&role,
		&membershipStatus,
		&membershipFee,
		&user.MembershipPlan,
		&user.Referrer1,
		&user.Referrer2,
		&user.Referred1,
		&user.Referred2,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user")
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.Role = domain.Role(role)
	user.MembershipStatus = domain.MembershipStatus(membershipStatus)
	user.MembershipFee = domain.MembershipFee(membershipFee)
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return &user, nil
}
