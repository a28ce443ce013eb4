package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

// ExpiredMembership is a user whose premium period has just been closed.
type ExpiredMembership struct {
	ID           uuid.UUID
	Email        string
	PremiumUntil time.Time
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, password_hash, type, premium_until, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Type,
		&user.PremiumUntil, &user.CreatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	user.ID = uuid.New()
	if user.Type == "" {
		user.Type = models.UserTypeRegular
	}

	return r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Type,
	).Scan(&user.CreatedAt)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpgradeGuest turns a guest account into a regular one in place so that
// its chats stay attached. It reports false when id is not a guest.
func (r *UserRepo) UpgradeGuest(ctx context.Context, id uuid.UUID, email, passwordHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET email = $1, password_hash = $2, type = 'regular'
		 WHERE id = $3 AND type = 'guest'`,
		email, passwordHash, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET last_login_at = $1 WHERE id = $2", time.Now(), userID)
	return err
}

// ExtendPremium makes the user premium for d past the later of now and
// their current premium_until, and returns the new expiry.
func (r *UserRepo) ExtendPremium(ctx context.Context, userID uuid.UUID, d time.Duration) (time.Time, error) {
	var until time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET type = 'premium',
			premium_until = GREATEST(COALESCE(premium_until, NOW()), NOW()) + ($2::float8 * INTERVAL '1 second')
		WHERE id = $1
		RETURNING premium_until
	`, userID, d.Seconds()).Scan(&until)
	return until, err
}

// DowngradeExpired moves every premium user whose period has passed back to
// regular and returns them.
func (r *UserRepo) DowngradeExpired(ctx context.Context) ([]ExpiredMembership, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE users
		SET type = 'regular'
		WHERE type = 'premium' AND premium_until IS NOT NULL AND premium_until <= NOW()
		RETURNING id, email, premium_until
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expired := make([]ExpiredMembership, 0)
	for rows.Next() {
		var m ExpiredMembership
		if err := rows.Scan(&m.ID, &m.Email, &m.PremiumUntil); err != nil {
			return nil, err
		}
		expired = append(expired, m)
	}
	return expired, rows.Err()
}
