// Package auth is the token boundary: static identities, bcrypt password
// verification, and HMAC-signed bearer tokens.
package auth

import (
	"errors"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike;
	// callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
)

var (
	metricLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "auth_logins_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})
	metricTokenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "auth_token_rejections_total",
		Help:      "Rejected bearer tokens by reason.",
	}, []string{"reason"})
)

// Authenticator issues and verifies bearer tokens against the static
// identity map.
type Authenticator struct {
	cfg    Config
	users  IdentityProvider
	secret []byte
	logger kitlog.Logger

	now func() time.Time
}

// New builds the authenticator. The secret must satisfy Config.Validate.
func New(cfg Config, users IdentityProvider, logger kitlog.Logger) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{
		cfg:    cfg,
		users:  users,
		secret: []byte(cfg.Secret.String()),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Issue verifies the password and returns a signed token carrying the
// username as subject.
func (a *Authenticator) Issue(username, password string) (string, error) {
	hash, ok := a.users.PasswordHash(username)
	if !ok {
		// Burn a comparison anyway so unknown users cost the same as wrong
		// passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0aZd0Zp4dS5B5ZBZu2uWxWZHqG6"), []byte(password))
		metricLogins.WithLabelValues("failure").Inc()
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		metricLogins.WithLabelValues("failure").Inc()
		level.Debug(a.logger).Log("msg", "password mismatch", "user", username)
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(a.secret)
	if err != nil {
		return "", err
	}

	metricLogins.WithLabelValues("success").Inc()
	level.Info(a.logger).Log("msg", "token issued", "user", username)
	return token, nil
}

// Verify checks signature and expiry and returns the subject.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuedAt(), jwt.WithTimeFunc(func() time.Time { return a.now() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metricTokenRejections.WithLabelValues("expired").Inc()
			return "", ErrExpiredToken
		}
		metricTokenRejections.WithLabelValues("invalid").Inc()
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		metricTokenRejections.WithLabelValues("invalid").Inc()
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenTTL exposes the configured lifetime for the login response.
func (a *Authenticator) TokenTTL() time.Duration {
	return a.cfg.TokenTTL
}
