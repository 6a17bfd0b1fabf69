// Package auth issues and verifies the credentials gating administrative
// ledger operations. Controllers authenticate with short-lived bearer
// tokens; long-running operator tooling uses pre-issued keys whose digests
// live in Postgres.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotController = errors.New("token subject is not the ledger controller")
	ErrUnknownKey    = errors.New("unknown operator key")
	ErrKeyRevoked    = errors.New("operator key revoked")
)

// Service mints and verifies controller credentials.
type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

// Claims is the bearer-token payload: which account the token speaks for
// and which ledger it administers.
type Claims struct {
	Subject string `json:"subject"`
	Ledger  string `json:"ledger"`
	jwt.RegisteredClaims
}

// OperatorKey is a long-lived credential for operator tooling. The plain
// key is returned exactly once, on issuance; only its digest is stored.
type OperatorKey struct {
	ID        string    `json:"id"`
	Ledger    string    `json:"ledger"`
	Subject   string    `json:"subject"`
	Key       string    `json:"key,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewService creates an auth service. db may be nil when operator keys are
// not in use.
func NewService(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// MintToken issues a bearer token asserting that subject administers ledger.
func (s *Service) MintToken(subject, ledger string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		Ledger:  ledger,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken parses and validates a bearer token, accepting an optional
// "Bearer " prefix.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireController checks that a verified token speaks for the ledger's
// current controller. The controller can change between mint and use, so
// the check runs against the live value.
func RequireController(claims *Claims, ledger, controller string) error {
	if claims.Ledger != ledger || claims.Subject != controller {
		return ErrNotController
	}
	return nil
}

// IssueOperatorKey creates a long-lived key for subject on ledger. The
// returned OperatorKey carries the plain key; it is not recoverable later.
func (s *Service) IssueOperatorKey(ctx context.Context, subject, ledger, name string) (*OperatorKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := hex.EncodeToString(keyBytes)

	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO operator_keys (id, ledger, subject, key_hash, name, created_at, revoked) VALUES ($1, $2, $3, $4, $5, $6, false)",
		id, ledger, subject, digest(key), name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store operator key: %w", err)
	}

	return &OperatorKey{
		ID:        id,
		Ledger:    ledger,
		Subject:   subject,
		Key:       key,
		Name:      name,
		CreatedAt: now,
	}, nil
}

// VerifyOperatorKey resolves a plain key to its record, rejecting unknown
// and revoked keys.
func (s *Service) VerifyOperatorKey(ctx context.Context, key string) (*OperatorKey, error) {
	var out OperatorKey
	var revoked bool

	err := s.db.QueryRowContext(ctx,
		"SELECT id, ledger, subject, name, created_at, revoked FROM operator_keys WHERE key_hash = $1",
		digest(key),
	).Scan(&out.ID, &out.Ledger, &out.Subject, &out.Name, &out.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrKeyRevoked
	}
	return &out, nil
}

// RevokeOperatorKey marks a key unusable.
func (s *Service) RevokeOperatorKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE operator_keys SET revoked = true WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownKey
	}
	return nil
}

func digest(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
