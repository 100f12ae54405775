package filestore

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// URLSigner mints and verifies short-lived download capability tokens.
// A token is bound to one (user, file key) pair; verification fails closed.
type URLSigner struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

type downloadClaims struct {
	UserEmail string `json:"user_email"`
	FileKey   string `json:"file_key"`
	jwt.RegisteredClaims
}

// NewURLSigner creates a signer. baseURL is the externally reachable
// download endpoint, e.g. "http://localhost:8080/api/files".
func NewURLSigner(secret []byte, baseURL string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &URLSigner{secret: secret, baseURL: baseURL, ttl: ttl}
}

// SignedURL builds a download URL carrying a capability token for the given
// user and file key.
func (s *URLSigner) SignedURL(userEmail, fileKey string) (string, error) {
	now := time.Now()
	claims := downloadClaims{
		UserEmail: userEmail,
		FileKey:   fileKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing download token: %w", err)
	}
	return fmt.Sprintf("%s/%s?token=%s", s.baseURL, url.PathEscape(fileKey), url.QueryEscape(token)), nil
}

// Verify checks a download token and returns the (user, file key) pair it
// grants. Any parse, signature, or expiry failure is an error.
func (s *URLSigner) Verify(tokenString string) (userEmail, fileKey string, err error) {
	var claims downloadClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("verifying download token: %w", err)
	}
	if !token.Valid || claims.UserEmail == "" || claims.FileKey == "" {
		return "", "", fmt.Errorf("invalid download token")
	}
	return claims.UserEmail, claims.FileKey, nil
}
