package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/models"
	"github.com/posternhq/postern/internal/services"
	pkgauth "github.com/posternhq/postern/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	users map[string]*models.User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*models.User)}
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if _, exists := m.users[user.Email]; exists {
		return nil, models.ErrConflict
	}
	user.ID = uuid.New().String()
	m.users[user.Email] = user
	return user, nil
}

func (m *MockUserRepository) CountByDomain(ctx context.Context, domainName string) (int, error) {
	count := 0
	for _, u := range m.users {
		if u.DomainName == domainName {
			count++
		}
	}
	return count, nil
}

// MockDomainRepository implements DomainRepository for testing
type MockDomainRepository struct {
	domains map[string]*models.Domain
}

func NewMockDomainRepository() *MockDomainRepository {
	return &MockDomainRepository{domains: make(map[string]*models.Domain)}
}

func (m *MockDomainRepository) GetByName(ctx context.Context, name string) (*models.Domain, error) {
	domain, ok := m.domains[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return domain, nil
}

func newTestDirectory(users *MockUserRepository, domains *MockDomainRepository) *services.Directory {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 1, RandomDelayMs: 1})
	return services.NewDirectory(users, domains, timing, logger)
}

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestDirectoryLoginSuccess(t *testing.T) {
	users := NewMockUserRepository()
	users.users["test@example.com"] = &models.User{
		ID:           uuid.New().String(),
		Email:        "test@example.com",
		PasswordHash: testHash(t, "correct-horse-battery"),
	}
	directory := newTestDirectory(users, NewMockDomainRepository())

	user, err := directory.Login(context.Background(), "test@example.com", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
}

func TestDirectoryLoginNormalizesEmail(t *testing.T) {
	users := NewMockUserRepository()
	users.users["test@example.com"] = &models.User{
		ID:           uuid.New().String(),
		Email:        "test@example.com",
		PasswordHash: testHash(t, "correct-horse-battery"),
	}
	directory := newTestDirectory(users, NewMockDomainRepository())

	user, err := directory.Login(context.Background(), "  Test@Example.COM  ", "correct-horse-battery")
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
}

func TestDirectoryLoginWrongPassword(t *testing.T) {
	users := NewMockUserRepository()
	users.users["test@example.com"] = &models.User{
		ID:           uuid.New().String(),
		Email:        "test@example.com",
		PasswordHash: testHash(t, "correct-horse-battery"),
	}
	directory := newTestDirectory(users, NewMockDomainRepository())

	_, err := directory.Login(context.Background(), "test@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestDirectoryLoginUnknownUser(t *testing.T) {
	directory := newTestDirectory(NewMockUserRepository(), NewMockDomainRepository())

	_, err := directory.Login(context.Background(), "nobody@example.com", "anything")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestDirectoryLoginNoUsablePassword(t *testing.T) {
	users := NewMockUserRepository()
	users.users["federated@example.com"] = &models.User{
		ID:    uuid.New().String(),
		Email: "federated@example.com",
	}
	directory := newTestDirectory(users, NewMockDomainRepository())

	// Federated accounts have no local password; any password must fail
	_, err := directory.Login(context.Background(), "federated@example.com", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestDirectoryCreateFederatedUser(t *testing.T) {
	users := NewMockUserRepository()
	directory := newTestDirectory(users, NewMockDomainRepository())

	user, err := directory.Create(context.Background(), "New@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "new", user.Localpart)
	assert.Equal(t, "example.com", user.DomainName)
	assert.False(t, user.HasUsablePassword())
}

func TestDirectoryCreateMalformedAddress(t *testing.T) {
	directory := newTestDirectory(NewMockUserRepository(), NewMockDomainRepository())

	for _, addr := range []string{"no-at-sign", "@example.com", "user@", ""} {
		_, err := directory.Create(context.Background(), addr)
		assert.ErrorIs(t, err, models.ErrMalformedAddress, "address %q", addr)
	}
}

func TestDirectoryProvisionSuccess(t *testing.T) {
	users := NewMockUserRepository()
	domains := NewMockDomainRepository()
	domains.domains["example.com"] = &models.Domain{Name: "example.com", MaxUsers: 10}
	directory := newTestDirectory(users, domains)

	user, err := directory.Provision(context.Background(), "proxied@example.com")
	require.NoError(t, err)
	assert.Equal(t, "proxied@example.com", user.Email)
	// Provisioned accounts get a random hash, never an empty one
	assert.True(t, user.HasUsablePassword())
}

func TestDirectoryProvisionUnknownDomain(t *testing.T) {
	directory := newTestDirectory(NewMockUserRepository(), NewMockDomainRepository())

	_, err := directory.Provision(context.Background(), "user@nowhere.example")
	assert.ErrorIs(t, err, models.ErrUnknownDomain)
}

func TestDirectoryProvisionDomainFull(t *testing.T) {
	users := NewMockUserRepository()
	domains := NewMockDomainRepository()
	domains.domains["example.com"] = &models.Domain{Name: "example.com", MaxUsers: 1}
	directory := newTestDirectory(users, domains)

	_, err := directory.Provision(context.Background(), "first@example.com")
	require.NoError(t, err)

	_, err = directory.Provision(context.Background(), "second@example.com")
	assert.ErrorIs(t, err, models.ErrDomainFull)
}

func TestDirectoryProvisionUnlimitedDomain(t *testing.T) {
	users := NewMockUserRepository()
	domains := NewMockDomainRepository()
	domains.domains["example.com"] = &models.Domain{Name: "example.com", MaxUsers: models.UnlimitedUsers}
	directory := newTestDirectory(users, domains)

	for i, addr := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := directory.Provision(context.Background(), addr)
		require.NoError(t, err, "provision %d", i)
	}
}

func TestDirectoryProvisionPasswordIsRandom(t *testing.T) {
	users := NewMockUserRepository()
	domains := NewMockDomainRepository()
	domains.domains["example.com"] = &models.Domain{Name: "example.com", MaxUsers: models.UnlimitedUsers}
	directory := newTestDirectory(users, domains)

	user, err := directory.Provision(context.Background(), "proxied@example.com")
	require.NoError(t, err)

	// Nobody knows the generated password, so no guess can match
	err = pkgauth.ComparePassword(user.PasswordHash, "")
	assert.Error(t, err)
}
