package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medifusion/triage-api/internal/model"
	jwtauth "github.com/medifusion/triage-api/pkg/auth"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) ListDoctors(context.Context) ([]*model.DoctorInfo, error) {
	return nil, nil
}

func (r *fakeUserRepo) SearchPatients(context.Context, string) ([]*model.User, error) {
	return nil, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (m *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[to] = code
	return nil
}

func (m *fakeMailer) SendCustom(context.Context, string, string, string) error {
	return nil
}

func newTestService() (*Service, *fakeUserRepo, *fakeMailer) {
	repo := newFakeUserRepo()
	mailer := &fakeMailer{}
	logger := zerolog.Nop()
	jwt := jwtauth.NewJWTService("test-secret", time.Hour, "triage-api")
	return NewService(repo, jwt, mailer, &logger), repo, mailer
}

func registerReq() *model.RegisterRequest {
	return &model.RegisterRequest{
		Username: "pat",
		Password: "long-enough-pw",
		Email:    "pat@example.com",
		Role:     model.RolePatient,
	}
}

func TestRegisterHashesPasswordAndSendsOTP(t *testing.T) {
	svc, repo, mailer := newTestService()

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	assert.NotEqual(t, "long-enough-pw", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("long-enough-pw")))
	assert.False(t, user.IsVerified)

	stored, err := repo.GetByEmail(context.Background(), "pat@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	require.Len(t, mailer.codes["pat@example.com"], 6)
}

func TestRegisterClinicalRoleRequiresLicense(t *testing.T) {
	svc, _, _ := newTestService()

	req := registerReq()
	req.Role = model.RoleDoctor
	_, err := svc.Register(context.Background(), req)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	req.LicenseCode = "MD-12345"
	_, err = svc.Register(context.Background(), req)
	assert.NoError(t, err)
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	svc, _, _ := newTestService()

	req := registerReq()
	req.Role = model.RoleAdmin
	_, err := svc.Register(context.Background(), req)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	dup := registerReq()
	dup.Email = "other@example.com"
	_, err = svc.Register(context.Background(), dup)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestRegisterSurvivesMailerOutage(t *testing.T) {
	svc, repo, mailer := newTestService()
	mailer.fail = true

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	_, err = repo.Get(context.Background(), user.ID)
	assert.NoError(t, err)
}

func TestVerifyOTP(t *testing.T) {
	svc, repo, mailer := newTestService()

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	code := mailer.codes["pat@example.com"]

	err = svc.VerifyOTP(context.Background(), &model.VerifyOTPRequest{Email: "pat@example.com", Code: "000000"})
	if code != "000000" {
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	}

	err = svc.VerifyOTP(context.Background(), &model.VerifyOTPRequest{Email: "pat@example.com", Code: code})
	require.NoError(t, err)

	user, err := repo.GetByEmail(context.Background(), "pat@example.com")
	require.NoError(t, err)
	assert.True(t, user.IsVerified)

	// Codes are single use.
	err = svc.VerifyOTP(context.Background(), &model.VerifyOTPRequest{Email: "pat@example.com", Code: code})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	resp, err := svc.Login(context.Background(), &model.LoginRequest{Username: "pat", Password: "long-enough-pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.NotNil(t, resp.User.LastLoginAt)

	_, err = svc.Login(context.Background(), &model.LoginRequest{Username: "pat", Password: "wrong"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	_, err = svc.Login(context.Background(), &model.LoginRequest{Username: "ghost", Password: "whatever"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
}
