// Package grants mints and verifies short-lived, HMAC-signed asset
// capabilities. A grant is a pure function of its claims, the server secret
// and the clock; there is no server-side session table.
package grants

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Operations a grant can authorize.
const (
	OpPut = "put"
	OpGet = "get"
)

var (
	// ErrInvalidGrant covers bad signatures, malformed tokens and wrong algorithms.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrExpiredGrant is returned once the grant's expiry has passed.
	ErrExpiredGrant = errors.New("grant expired")
	// ErrWrongOp is returned when a grant is presented for another operation.
	ErrWrongOp = errors.New("grant operation mismatch")
	// ErrWrongAsset is returned when a grant is presented for another asset.
	ErrWrongAsset = errors.New("grant asset mismatch")
)

// Claims is the signed body of a grant.
type Claims struct {
	AssetID uuid.UUID `json:"aid"`
	OrgID   uuid.UUID `json:"oid"`
	UserID  uuid.UUID `json:"uid"`
	Op      string    `json:"op"`
	// Upload grants pin the dataset and the declared object.
	DatasetID   *uuid.UUID `json:"did,omitempty"`
	ContentType string     `json:"ct,omitempty"`
	ByteSize    int64      `json:"sz,omitempty"`
	// Read grants carry the minting role and email so access can be re-checked on use.
	Role  string `json:"role,omitempty"`
	Email string `json:"em,omitempty"`
	jwt.RegisteredClaims
}

// Signer holds one derived key per operation.
type Signer struct {
	keys map[string][]byte
	now  func() time.Time
}

// NewSigner derives per-operation keys from secret. now defaults to time.Now.
func NewSigner(secret string, now func() time.Time) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("grant secret is required")
	}
	if now == nil {
		now = time.Now
	}
	s := &Signer{keys: make(map[string][]byte, 2), now: now}
	for _, op := range []string{OpPut, OpGet} {
		k, err := deriveKey(secret, "data-viewer asset grant "+op)
		if err != nil {
			return nil, err
		}
		s.keys[op] = k
	}
	return s, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive grant key: %w", err)
	}
	return key, nil
}

// Mint signs c with a ttl-bounded expiry. The returned time is the exact
// expiry encoded in the token.
func (s *Signer) Mint(c Claims, ttl time.Duration) (string, time.Time, error) {
	key, ok := s.keys[c.Op]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrWrongOp, c.Op)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("grant ttl must be positive")
	}
	now := s.now()
	exp := jwt.NewNumericDate(now.Add(ttl))
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.AssetID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: exp,
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign grant: %w", err)
	}
	return token, exp.Time, nil
}

// Verify checks signature, expiry, operation and asset binding.
func (s *Signer) Verify(token, op string, assetID uuid.UUID) (*Claims, error) {
	key, ok := s.keys[op]
	if !ok {
		return nil, ErrWrongOp
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredGrant
		}
		return nil, ErrInvalidGrant
	}
	if claims.Op != op {
		return nil, ErrWrongOp
	}
	if claims.AssetID != assetID {
		return nil, ErrWrongAsset
	}
	return claims, nil
}

// Reason maps a Verify error to a short metrics label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredGrant):
		return "expired"
	case errors.Is(err, ErrWrongOp):
		return "wrong_op"
	case errors.Is(err, ErrWrongAsset):
		return "wrong_asset"
	default:
		return "invalid"
	}
}
