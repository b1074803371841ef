package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/model"
)

const userColumns = `
	id, username, password_hash, full_name, email, role, specialty,
	license_code, is_verified, last_login_at, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (
			id, username, password_hash, full_name, email, role, specialty,
			license_code, is_verified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.PasswordHash, u.FullName, u.Email, u.Role,
		u.Specialty, u.LicenseCode, u.IsVerified, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u model.User
	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	var u model.User
	if err := r.db.GetContext(ctx, &u, query, username); err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u model.User
	if err := r.db.GetContext(ctx, &u, query, email); err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

func (r *userRepository) Update(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET full_name = $1, email = $2, specialty = $3, is_verified = $4,
			password_hash = $5, last_login_at = $6, updated_at = $7
		WHERE id = $8
	`
	u.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		u.FullName, u.Email, u.Specialty, u.IsVerified,
		u.PasswordHash, u.LastLoginAt, u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return checkAffected(result)
}

func (r *userRepository) ListDoctors(ctx context.Context) ([]*model.DoctorInfo, error) {
	query := `
		SELECT id,
			   COALESCE(NULLIF(full_name, ''), username) AS name,
			   COALESCE(NULLIF(specialty, ''), 'General') AS specialty
		FROM users
		WHERE role = $1
		ORDER BY name ASC
	`
	var doctors []*model.DoctorInfo
	if err := r.db.SelectContext(ctx, &doctors, query, model.RoleDoctor); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

func (r *userRepository) SearchPatients(ctx context.Context, term string) ([]*model.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE role = $1 AND (username ILIKE $2 OR full_name ILIKE $2)
		ORDER BY username ASC`
	var users []*model.User
	if err := r.db.SelectContext(ctx, &users, query, model.RolePatient, "%"+term+"%"); err != nil {
		return nil, fmt.Errorf("failed to search patients: %w", err)
	}
	return users, nil
}
