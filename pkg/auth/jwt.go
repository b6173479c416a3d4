package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
)

const (
	defaultJWTSecret     = "fallback_secret_change_in_production"
	defaultTokenLifetime = 720 * time.Hour
	tokenIssuer          = "webterm"
	tokenCookie          = "profile_token"
)

var (
	ErrNoToken      = errors.New("no token found in request")
	ErrInvalidToken = errors.New("invalid token")
)

// getJWTSecret prefers WEBTERM_JWT_SECRET over the [JWT] secret setting.
func getJWTSecret() string {
	if envSecret := os.Getenv("WEBTERM_JWT_SECRET"); envSecret != "" {
		return envSecret
	}
	secret := configuration.GetString("JWT", "secret", "")
	if secret == "" {
		logger.Warn(logger.AreaSecurity, "Using fallback JWT secret - set WEBTERM_JWT_SECRET for production")
		return defaultJWTSecret
	}
	return secret
}

func getTokenLifetime() time.Duration {
	return configuration.GetDuration("JWT", "token_lifetime", defaultTokenLifetime)
}

// ProfileClaims binds a token to one storage profile.
type ProfileClaims struct {
	ProfileID string `json:"pid"`
	jwt.RegisteredClaims
}

// NewProfileID returns a fresh random profile id.
func NewProfileID() string {
	return uuid.NewString()
}

// GenerateProfileToken signs a token for profileID.
func GenerateProfileToken(profileID string) (string, error) {
	now := time.Now()
	claims := ProfileClaims{
		ProfileID: profileID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenLifetime())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   "profile",
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(getJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	logger.Debug(logger.AreaAuth, "Token issued for profile %s", profileID)
	return signed, nil
}

// ValidateProfileToken checks signature, expiry and issuer and returns the claims.
func ValidateProfileToken(tokenString string) (*ProfileClaims, error) {
	claims := &ProfileClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(getJWTSecret()), nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.ProfileID); err != nil {
		return nil, fmt.Errorf("%w: bad profile id", ErrInvalidToken)
	}
	return claims, nil
}

// ExtractTokenFromRequest looks at the Authorization header, the profile
// cookie and the token query parameter, in that order.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// RequireProfileToken rejects requests without a valid profile token and
// puts the claims into the request context.
func RequireProfileToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.Warn(logger.AreaAuth, "No token in request from %s: %v", GetClientIP(r), err)
			http.Error(w, "Unauthorized: token missing", http.StatusUnauthorized)
			return
		}
		claims, err := ValidateProfileToken(tokenString)
		if err != nil {
			logger.Warn(logger.AreaAuth, "Rejected token from %s: %v", GetClientIP(r), err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}
