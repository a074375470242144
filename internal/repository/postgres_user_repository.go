package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/config"
	"github.com/storefront/authsession/internal/models"
)

// PostgresUserRepository reads the "User" table owned by the storefront backend.
type PostgresUserRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func OpenPostgres(cfg *config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func NewPostgresUserRepository(db *sql.DB, logger *logrus.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: logger}
}

const userColumns = `id, email, "passwordHash", role, avatar, "firstName", "lastName", "createdAt", "updatedAt"`

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM "User" WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM "User" WHERE lower(email) = $1`
	return r.queryOne(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresUserRepository) queryOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var (
		user                 models.User
		role                 string
		avatar, first, last  sql.NullString
		createdAt, updatedAt time.Time
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&role,
		&avatar,
		&first,
		&last,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to query user from Postgres")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	parsed, err := models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.ID, err)
	}

	user.Role = parsed
	user.Avatar = avatar.String
	user.FirstName = first.String
	user.LastName = last.String
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt

	return &user, nil
}
