package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/munilegis/legis/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultOTPTTL  = 10 * time.Minute
	otpCodeDigits  = 6
	otpCodeCeiling = 1000000
)

var (
	// ErrInvalidOTP indicates a code that is unknown, already used or expired.
	ErrInvalidOTP = errors.New("auth: invalid or expired code")

	errMissingOTPDatabase = errors.New("auth: otp database handle required")
	errMissingOTPIDs      = errors.New("auth: otp id provider required")
)

// OTPConfig describes the dependencies for the one-time-code service.
type OTPConfig struct {
	Database   *gorm.DB
	IDProvider records.IDProvider
	Clock      func() time.Time
	TTL        time.Duration
	Logger     *zap.Logger
}

// OTPService issues and consumes one-time codes for the password-reset flow.
// Codes live in the application's one_time_codes table, not in the token
// issuer.
type OTPService struct {
	db     *gorm.DB
	ids    records.IDProvider
	clock  func() time.Time
	ttl    time.Duration
	logger *zap.Logger
}

// NewOTPService constructs the OTP service.
func NewOTPService(cfg OTPConfig) (*OTPService, error) {
	if cfg.Database == nil {
		return nil, errMissingOTPDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingOTPIDs
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{db: cfg.Database, ids: cfg.IDProvider, clock: clock, ttl: ttl, logger: logger}, nil
}

// Issue generates a fresh 6-digit code for the email and persists it with an
// expiry. Previously issued codes for the same email are invalidated.
func (s *OTPService) Issue(ctx context.Context, email string) (records.OneTimeCode, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return records.OneTimeCode{}, fmt.Errorf("auth: otp id: %w", err)
	}
	code, err := randomCode()
	if err != nil {
		return records.OneTimeCode{}, fmt.Errorf("auth: otp code: %w", err)
	}
	now := s.clock().UTC()
	row := records.OneTimeCode{
		ID:        id,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.ttl),
		Used:      false,
		CreatedAt: now,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&records.OneTimeCode{}).
			Where("email = ? AND used = ?", email, false).
			Update("used", true).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if txErr != nil {
		s.logger.Error("failed to issue one-time code", zap.Error(txErr))
		return records.OneTimeCode{}, fmt.Errorf("auth: otp insert: %w", txErr)
	}
	return row, nil
}

// Consume validates the code for the email and marks it used. A code is
// single-use; verifying it twice fails the second time.
func (s *OTPService) Consume(ctx context.Context, email, code string) error {
	now := s.clock().UTC()
	var row records.OneTimeCode
	err := s.db.WithContext(ctx).
		Where("email = ? AND code = ? AND used = ?", email, code, false).
		Where("expires_at > ?", now).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidOTP
	}
	if err != nil {
		s.logger.Error("one-time code lookup failed", zap.Error(err))
		return fmt.Errorf("auth: otp lookup: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&records.OneTimeCode{}).
		Where("id = ?", row.ID).
		Update("used", true).Error; err != nil {
		s.logger.Error("one-time code consume failed", zap.Error(err))
		return fmt.Errorf("auth: otp consume: %w", err)
	}
	return nil
}

func randomCode() (string, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(otpCodeCeiling))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeDigits, value.Int64()), nil
}
