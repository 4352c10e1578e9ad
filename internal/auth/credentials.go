package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates a sign-in or re-authentication failure.
	// Deliberately indistinct between unknown email and wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNoCredentials indicates a profile that has never been issued a password.
	ErrNoCredentials = errors.New("auth: no credentials on profile")

	errMissingUserService = errors.New("auth: user service required")
	errMissingTokenIssuer = errors.New("auth: token issuer required")
)

// SignInResult is the successful outcome of password authentication.
type SignInResult struct {
	Token     string
	ExpiresIn int64
	User      records.User
}

// Authenticator performs email/password sign-in against stored profiles and
// issues backend access tokens.
type Authenticator struct {
	users  *records.UserService
	issuer *TokenIssuer
	logger *zap.Logger
}

// NewAuthenticator constructs the password authenticator.
func NewAuthenticator(users *records.UserService, issuer *TokenIssuer, logger *zap.Logger) (*Authenticator, error) {
	if users == nil {
		return nil, errMissingUserService
	}
	if issuer == nil {
		return nil, errMissingTokenIssuer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{users: users, issuer: issuer, logger: logger}, nil
}

// SignIn verifies the password for the profile matching the email and issues
// an access token.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	user, err := a.users.GetByEmail(ctx, email)
	if errors.Is(err, records.ErrNotFound) {
		return SignInResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}
	if user.PasswordHash == "" {
		return SignInResult{}, ErrNoCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return SignInResult{}, ErrInvalidCredentials
	}

	token, expiresIn, err := a.issuer.IssueAccessToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		a.logger.Error("failed to issue access token", zap.Error(err))
		return SignInResult{}, fmt.Errorf("auth: issue token: %w", err)
	}
	return SignInResult{Token: token, ExpiresIn: expiresIn, User: user}, nil
}

// UpdatePassword re-authenticates with the current password before storing a
// new hash.
func (a *Authenticator) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := a.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return ErrNoCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return a.users.SetPasswordHash(ctx, userID, hash)
}

// HashPassword produces a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("auth: empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
