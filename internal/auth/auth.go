package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingToken  = errors.New("missing token")
	ErrAgentRejected = errors.New("agent key rejected")
)

// CookieName is read by browsers that cannot set headers on a WebSocket
// handshake.
const CookieName = "relay_token"

type Claims struct {
	Label string `json:"label"`
	jwt.RegisteredClaims
}

type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Enabled reports whether connections must present a token.
func (s *Service) Enabled() bool {
	return s != nil && len(s.jwtSecret) > 0
}

func (s *Service) GenerateToken(label string) (string, error) {
	return s.GenerateTokenWithTTL(label, s.tokenTTL)
}

func (s *Service) GenerateTokenWithTTL(label string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Label: label,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
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

// Authenticate validates the token carried by an upgrade request.
func (s *Service) Authenticate(r *http.Request) (*Claims, error) {
	tokenStr := TokenFromRequest(r)
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	return s.ValidateToken(tokenStr)
}

// TokenFromRequest checks the Authorization header, then the cookie, then
// the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// GenerateSecret returns 32 random bytes hex-encoded, suitable for
// RELAY_JWT_SECRET or as an agent key.
func GenerateSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// HashAgentKey produces the bcrypt hash stored in RELAY_AGENT_KEY_HASH.
func HashAgentKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AgentVerifier checks the key an agent presents in IDENTIFY.
type AgentVerifier struct {
	hash []byte
}

func NewAgentVerifier(hash string) *AgentVerifier {
	if hash == "" {
		return nil
	}
	return &AgentVerifier{hash: []byte(hash)}
}

// Verify accepts any key when v is nil.
func (v *AgentVerifier) Verify(key string) error {
	if v == nil {
		return nil
	}
	if key == "" {
		return ErrAgentRejected
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrAgentRejected
	}
	return nil
}
