package repositories

import (
	"context"
	"database/sql"

	"seatkeeper/internal/platform/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, nullString(user.Name), user.CreatedAt)
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at, deleted_at
		FROM users WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at, deleted_at
		FROM users WHERE email = $1 AND deleted_at IS NULL
	`, email))
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user      models.User
		name      sql.NullString
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&user.ID, &user.Email, &name, &user.CreatedAt, &deletedAt); err != nil {
		return nil, notFound(err)
	}
	user.Name = name.String
	user.DeletedAt = int64Ptr(deletedAt)
	return &user, nil
}
