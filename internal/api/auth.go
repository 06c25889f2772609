package api

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lorawan-server/floranet-ns/internal/config"
)

const sessionTokenTTL = 15 * time.Minute

// Authenticator enforces §6's bearer-token rule against the live
// config.apitoken hash. It also mints short-lived session JWTs so a CLI
// can cache a token instead of resending the raw apitoken on every call.
type Authenticator struct {
	cfg    *config.Manager
	secret []byte
}

// NewAuthenticator generates a random per-process JWT signing secret.
// Session tokens it issues do not survive a restart, which is
// acceptable: a client that loses one just re-presents the apitoken.
func NewAuthenticator(cfg *config.Manager) (*Authenticator, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("api: generate session secret: %w", err)
	}
	return &Authenticator{cfg: cfg, secret: secret}, nil
}

// HashToken bcrypt-hashes a plaintext apitoken for storage in Config,
// so the raw value never lives on disk once the bootstrap file has
// been read.
func HashToken(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	return string(h), err
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// IssueToken mints a session JWT valid for sessionTokenTTL.
func (a *Authenticator) IssueToken() (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "floranet-ns",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

// Authenticate reports whether presented is a valid credential: either a
// session JWT minted by IssueToken, or the raw apitoken checked against
// its bcrypt hash.
func (a *Authenticator) Authenticate(presented string) bool {
	if presented == "" {
		return false
	}
	if _, err := a.parseToken(presented); err == nil {
		return true
	}
	hash := a.cfg.Get().APIToken
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}

func (a *Authenticator) parseToken(raw string) (*sessionClaims, error) {
	tok, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("api: invalid session token")
	}
	claims, ok := tok.Claims.(*sessionClaims)
	if !ok {
		return nil, fmt.Errorf("api: invalid session token claims")
	}
	return claims, nil
}
