package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleLabTech Role = "lab_tech"
	RoleAdmin   Role = "admin"
)

// Capability is a closed set of actions a role may perform. Handlers gate
// on capabilities, never on raw role strings.
type Capability string

const (
	CapSubmitCase Capability = "case:submit"
	CapTriageCase Capability = "case:triage"
	CapLabWork    Capability = "case:lab"
	CapAdminAll   Capability = "admin:all"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RolePatient: {CapSubmitCase: true},
	RoleDoctor:  {CapTriageCase: true},
	RoleLabTech: {CapLabWork: true},
	RoleAdmin:   {CapSubmitCase: true, CapTriageCase: true, CapLabWork: true, CapAdminAll: true},
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// Valid reports whether the role is one of the closed enumeration.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

type User struct {
	Base
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name,omitempty"`
	Email        string     `db:"email" json:"email,omitempty"`
	Role         Role       `db:"role" json:"role"`
	Specialty    string     `db:"specialty" json:"specialty,omitempty"`
	LicenseCode  string     `db:"license_code" json:"-"`
	IsVerified   bool       `db:"is_verified" json:"is_verified"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// DisplayName prefers the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Actor is the authenticated identity resolved from a bearer credential.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Password    string `json:"password" binding:"required,min=8"`
	FullName    string `json:"full_name" binding:"max=128"`
	Email       string `json:"email" binding:"required,email"`
	Role        Role   `json:"role" binding:"required"`
	Specialty   string `json:"specialty"`
	LicenseCode string `json:"license_code"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// DoctorInfo is the directory entry patients pick an assignee from.
type DoctorInfo struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Specialty string    `db:"specialty" json:"specialty"`
}
