package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signedURLIssuer = "legis-storage"

var (
	errMissingURLSecret = errors.New("storage: signing secret required")
	// ErrInvalidDownloadToken indicates a signed URL token that failed validation.
	ErrInvalidDownloadToken = errors.New("storage: invalid download token")
)

type downloadClaims struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	jwt.RegisteredClaims
}

// URLSigner issues and validates time-boxed download tokens for signed URLs.
type URLSigner struct {
	secret []byte
	clock  func() time.Time
}

// NewURLSigner constructs a signer from the shared signing secret.
func NewURLSigner(secret []byte, clock func() time.Time) (*URLSigner, error) {
	if len(secret) == 0 {
		return nil, errMissingURLSecret
	}
	if clock == nil {
		clock = time.Now
	}
	return &URLSigner{secret: append([]byte(nil), secret...), clock: clock}, nil
}

// Sign returns a token granting access to one object until the TTL elapses.
func (s *URLSigner) Sign(bucket, path string, ttl time.Duration) (string, error) {
	now := s.clock().UTC()
	claims := downloadClaims{
		Bucket: bucket,
		Path:   path,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signedURLIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate checks the token and confirms it grants access to the given object.
func (s *URLSigner) Validate(token, bucket, path string) error {
	claims := &downloadClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidDownloadToken, t.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithIssuer(signedURLIssuer),
		jwt.WithTimeFunc(s.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDownloadToken, err)
	}
	if claims.Bucket != bucket || claims.Path != path {
		return ErrInvalidDownloadToken
	}
	return nil
}
