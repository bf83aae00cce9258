package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a set of JSON Web Keys
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// Verifier validates bearer tokens for the auction. In production it checks
// RS256 signatures against the identity provider's JWKS endpoint; when a
// shared secret is configured it checks HS256 instead, which keeps local
// setups off the network.
type Verifier struct {
	Issuer       string
	Audience     string
	JWKSEndpoint string
	Secret       string

	mu        sync.Mutex
	jwkSet    *JWKSet
	lastFetch time.Time
}

// TeamClaims are the token claims the auction cares about: which team the
// caller bids for and whether they hold the recruiter role.
type TeamClaims struct {
	Name  string   `json:"name"`
	Team  string   `json:"team"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TeamName resolves the acting team's identity from the claims.
func (c *TeamClaims) TeamName() string {
	if c.Team != "" {
		return c.Team
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

func (c *TeamClaims) IsRecruiter() bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, "recruiter") {
			return true
		}
	}
	return false
}

// NewVerifierFromEnv builds a Verifier from AUCTION_JWT_* environment
// variables.
func NewVerifierFromEnv() *Verifier {
	return &Verifier{
		Issuer:       os.Getenv("AUCTION_JWT_ISSUER"),
		Audience:     os.Getenv("AUCTION_JWT_AUDIENCE"),
		JWKSEndpoint: os.Getenv("AUCTION_JWKS_URL"),
		Secret:       os.Getenv("AUCTION_JWT_SECRET"),
	}
}

// fetchJWKS refreshes the key cache at most once an hour.
func (v *Verifier) fetchJWKS() error {
	if v.jwkSet != nil && time.Since(v.lastFetch) < time.Hour {
		return nil
	}
	if v.JWKSEndpoint == "" {
		return fmt.Errorf("no JWKS endpoint configured")
	}

	resp, err := http.Get(v.JWKSEndpoint)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var jwkSet JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&jwkSet); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.jwkSet = &jwkSet
	v.lastFetch = time.Now()
	return nil
}

func (v *Verifier) getPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	for _, key := range v.jwkSet.Keys {
		if key.Kid == kid && key.Kty == "RSA" {
			return jwkToRSAPublicKey(key)
		}
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode N: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode E: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (v *Verifier) ValidateToken(tokenString string) (*TeamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TeamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if v.Secret != "" {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(v.Secret), nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}
		return v.getPublicKey(kid)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*TeamClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token or claims")
	}

	if v.Issuer != "" && claims.Issuer != v.Issuer {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}
	if v.Audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == v.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid audience")
		}
	}
	if claims.TeamName() == "" {
		return nil, fmt.Errorf("token carries no team identity")
	}
	return claims, nil
}

// TokenFromRequest pulls the bearer token from the Authorization header or,
// for websocket upgrades, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if token := strings.TrimPrefix(authHeader, "Bearer "); token != authHeader {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

type contextKey struct{}

// Middleware authenticates requests and stores the claims on the context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "Bearer token required", http.StatusUnauthorized)
			return
		}
		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts team claims stored by Middleware.
func FromContext(ctx context.Context) (*TeamClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*TeamClaims)
	return claims, ok
}
