package reward

import (
	"context"

	"github.com/roach88/storygate/internal/access"
)

// Token is a single-shot reward flow over one presented token.
type Token struct {
	verifier *Verifier
	raw      string
}

// NewToken binds raw to verifier.
func NewToken(verifier *Verifier, raw string) Token {
	return Token{verifier: verifier, raw: raw}
}

// RequestGrant implements access.RewardSource. A token that fails
// verification is an error, not a declined grant.
func (t Token) RequestGrant(ctx context.Context, userID, storyID string) (access.Grant, error) {
	if err := ctx.Err(); err != nil {
		return access.Grant{}, err
	}
	if _, err := t.verifier.Verify(ctx, t.raw, userID, storyID); err != nil {
		return access.Grant{}, err
	}
	return access.Grant{Earned: true}, nil
}
