package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/models"
	pkgauth "github.com/posternhq/postern/pkg/auth"
)

// UserRepository defines the interface for account storage
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	CountByDomain(ctx context.Context, domainName string) (int, error)
}

// DomainRepository defines the interface for domain lookups
type DomainRepository interface {
	GetByName(ctx context.Context, name string) (*models.Domain, error)
}

// Directory implements account lookup, creation and password verification
type Directory struct {
	users   UserRepository
	domains DomainRepository
	timing  *auth.TimingDelay
	logger  *slog.Logger
}

// NewDirectory creates a new Directory
func NewDirectory(users UserRepository, domains DomainRepository, timing *auth.TimingDelay, logger *slog.Logger) *Directory {
	return &Directory{
		users:   users,
		domains: domains,
		timing:  timing,
		logger:  logger,
	}
}

// Get resolves an email to an account. Returns models.ErrNotFound when no
// account exists.
func (d *Directory) Get(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, models.ErrNotFound
	}
	return d.users.GetByEmail(ctx, email)
}

// Create provisions an account with no usable local password, for
// federated just-in-time provisioning.
func (d *Directory) Create(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)

	localpart, domainName, err := splitAddress(email)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:      email,
		Localpart:  localpart,
		DomainName: domainName,
	}

	created, err := d.users.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	d.logger.Info("user created without local password", slog.String("user_id", created.ID))
	return created, nil
}

// Login verifies a password against the directory. Unknown user, missing
// local password and wrong password all converge on models.ErrUnauthorized
// after the same padded delay, so none of them is an enumeration oracle.
func (d *Directory) Login(ctx context.Context, email, password string) (*models.User, error) {
	start := time.Now()

	email = normalizeEmail(email)

	user, err := d.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			d.timing.WaitFrom(start)
			return nil, models.ErrUnauthorized
		}
		d.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.HasUsablePassword() {
		d.timing.WaitFrom(start)
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		d.timing.WaitFrom(start)
		return nil, models.ErrUnauthorized
	}

	return user, nil
}

// Provision creates an account asserted by a trusted proxy. The domain must
// exist and have free quota (models.UnlimitedUsers means no limit). The
// account gets a random unguessable password, so local password login stays
// impossible unless the hash is explicitly replaced later.
func (d *Directory) Provision(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)

	localpart, domainName, err := splitAddress(email)
	if err != nil {
		return nil, err
	}

	domain, err := d.domains.GetByName(ctx, domainName)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnknownDomain
		}
		d.logger.Error("failed to look up domain", slog.String("domain", domainName), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	userCount, err := d.users.CountByDomain(ctx, domainName)
	if err != nil {
		d.logger.Error("failed to count domain users", slog.String("domain", domainName), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if domain.AtCapacity(userCount) {
		d.logger.Warn("domain user quota exceeded",
			slog.String("domain", domainName),
			slog.Int("users", userCount),
			slog.Int("max_users", domain.MaxUsers))
		return nil, models.ErrDomainFull
	}

	randomPassword, err := pkgauth.GenerateRandomPassword()
	if err != nil {
		return nil, models.ErrInternalServer
	}
	hash, err := pkgauth.HashPassword(randomPassword)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		Localpart:    localpart,
		DomainName:   domainName,
		PasswordHash: hash,
	}

	created, err := d.users.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

// normalizeEmail lowercases and trims an address
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// splitAddress parses localpart@domain, rejecting malformed addresses
func splitAddress(email string) (localpart, domain string, err error) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", models.ErrMalformedAddress
	}
	return email[:at], email[at+1:], nil
}
