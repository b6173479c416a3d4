package auth

import (
	"context"
)

type contextKey string

const claimsKey contextKey = "profile_claims"

// AddClaimsToContext stores validated claims on ctx.
func AddClaimsToContext(ctx context.Context, claims *ProfileClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaimsFromContext returns the claims stored by RequireProfileToken.
func GetClaimsFromContext(ctx context.Context) (*ProfileClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*ProfileClaims)
	return claims, ok && claims != nil
}

// ProfileIDFromContext returns the profile id, or "" when the request was
// not authenticated.
func ProfileIDFromContext(ctx context.Context) string {
	if claims, ok := GetClaimsFromContext(ctx); ok {
		return claims.ProfileID
	}
	return ""
}
