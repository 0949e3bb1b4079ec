package auth

import (
	"context"
	"fmt"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/store"
)

// Verifier resolves the identity a WebSocket connection claims.
// With Required set a valid token is mandatory and its user id wins; without
// it a bare user id is accepted as long as the user exists.
type Verifier struct {
	users     store.UserStore
	jwtConfig *JWTConfig
	required  bool
}

// NewVerifier builds an identity verifier.
func NewVerifier(users store.UserStore, jwtConfig *JWTConfig, required bool) *Verifier {
	return &Verifier{users: users, jwtConfig: jwtConfig, required: required}
}

// Verify implements core.IdentityVerifier.
func (v *Verifier) Verify(ctx context.Context, claimedUserID int64, token string) (int64, error) {
	if token == "" {
		if v.required {
			return 0, fmt.Errorf("%w: token is required", core.ErrUnauthorized)
		}
		return v.checkExists(ctx, claimedUserID)
	}

	claims, err := ValidateToken(v.jwtConfig, token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if claimedUserID != 0 && claimedUserID != claims.UserID {
		return 0, fmt.Errorf("%w: token belongs to another user", core.ErrUnauthorized)
	}
	return claims.UserID, nil
}

func (v *Verifier) checkExists(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id is required", core.ErrUnauthorized)
	}
	exists, err := v.users.UserExists(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: unknown user", core.ErrUnauthorized)
	}
	return userID, nil
}
