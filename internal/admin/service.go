// Package admin bundles the privileged operations that sit above the record
// services: inviting and removing staff, the password-reset flow and database
// backups.
package admin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/munilegis/legis/internal/auth"
	"github.com/munilegis/legis/internal/backup"
	"github.com/munilegis/legis/internal/notify"
	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
)

const temporaryPasswordLength = 12

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	errMissingUsers   = errors.New("admin: user service required")
	errMissingOTP     = errors.New("admin: otp service required")
	errMissingMailer  = errors.New("admin: mailer required")
	errMissingBackups = errors.New("admin: backup coordinator required")
)

// Invitation is the validated input for onboarding a staff member.
type Invitation struct {
	Profile  records.UserCreate
	Password string
}

// Config describes the dependencies of the admin service.
type Config struct {
	Users   *records.UserService
	OTP     *auth.OTPService
	Mailer  notify.Mailer
	Backups *backup.Coordinator
	Logger  *zap.Logger
}

// Service performs administrative operations.
type Service struct {
	users   *records.UserService
	otp     *auth.OTPService
	mailer  notify.Mailer
	backups *backup.Coordinator
	logger  *zap.Logger
}

// NewService constructs the admin service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	if cfg.OTP == nil {
		return nil, errMissingOTP
	}
	if cfg.Mailer == nil {
		return nil, errMissingMailer
	}
	if cfg.Backups == nil {
		return nil, errMissingBackups
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:   cfg.Users,
		otp:     cfg.OTP,
		mailer:  cfg.Mailer,
		backups: cfg.Backups,
		logger:  logger,
	}, nil
}

// InviteUser creates a staff profile with credentials and mails the initial
// password. When the invitation omits a password a temporary one is generated.
// The invitation email is best effort; a delivery failure does not undo the
// created profile.
func (s *Service) InviteUser(ctx context.Context, invitation Invitation, avatar *records.FileUpload) (records.User, error) {
	password := invitation.Password
	if password == "" {
		generated, err := temporaryPassword()
		if err != nil {
			return records.User{}, fmt.Errorf("admin: generate password: %w", err)
		}
		password = generated
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return records.User{}, fmt.Errorf("admin: hash password: %w", err)
	}

	user, err := s.users.Create(ctx, invitation.Profile, avatar)
	if err != nil {
		return records.User{}, err
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return records.User{}, err
	}

	message := notify.Message{
		Recipient: user.Email,
		Subject:   "Your legislative records account",
		Body: fmt.Sprintf(
			"Dear %s %s,\n\nAn account has been created for you.\n\nEmail: %s\nTemporary password: %s\n\nPlease sign in and change your password.\n",
			user.Firstname, user.Lastname, user.Email, password),
	}
	if err := s.mailer.Send(ctx, message); err != nil {
		s.logger.Error("failed to send invitation email",
			zap.String("recipient", user.Email), zap.Error(err))
	}
	return user, nil
}

// DeleteUser removes a staff profile. Deleting a profile that is already gone
// succeeds.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.users.Delete(ctx, id)
	if errors.Is(err, records.ErrNotFound) {
		return nil
	}
	return err
}

// SendOTP issues a one-time code for the profile matching the email and mails
// it. Unknown emails surface as not found so the caller can decide what to
// disclose.
func (s *Service) SendOTP(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	code, err := s.otp.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	message := notify.Message{
		Recipient: user.Email,
		Subject:   "Your password reset code",
		Body: fmt.Sprintf(
			"Dear %s %s,\n\nYour password reset code is: %s\n\nThe code expires at %s and can be used once.\n",
			user.Firstname, user.Lastname, code.Code, code.ExpiresAt.Format("3:04 PM MST")),
	}
	if err := s.mailer.Send(ctx, message); err != nil {
		s.logger.Error("failed to send reset code",
			zap.String("recipient", user.Email), zap.Error(err))
		return fmt.Errorf("admin: send reset code: %w", err)
	}
	return nil
}

// ResetPassword consumes a one-time code and stores new credentials for the
// matching profile.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.otp.Consume(ctx, user.Email, code); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.SetPasswordHash(ctx, user.ID, hash)
}

// BackupDatabase exports a full snapshot and returns its handle.
func (s *Service) BackupDatabase(ctx context.Context) (backup.Handle, error) {
	return s.backups.Export(ctx)
}

func temporaryPassword() (string, error) {
	buf := make([]byte, temporaryPasswordLength)
	for i := range buf {
		index, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = passwordAlphabet[index.Int64()]
	}
	return string(buf), nil
}
