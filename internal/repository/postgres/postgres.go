package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/medifusion/triage-api/internal/repository"
)

type caseRepository struct {
	db *sqlx.DB
}

type userRepository struct {
	db *sqlx.DB
}

type labRepository struct {
	db *sqlx.DB
}

func NewCaseRepository(db *sqlx.DB) repository.CaseRepository {
	return &caseRepository{db: db}
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func NewLabRepository(db *sqlx.DB) repository.LabRepository {
	return &labRepository{db: db}
}
