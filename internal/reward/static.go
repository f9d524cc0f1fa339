package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/storygate/internal/access"
)

// Result is the fixed outcome of a Static reward flow.
type Result string

const (
	ResultEarned   Result = "earned"
	ResultDeclined Result = "declined"
	ResultError    Result = "error"
)

// ErrAdFailed is what a Static source in ResultError mode returns.
var ErrAdFailed = errors.New("ad failed to load")

// ParseResult validates a result name.
func ParseResult(s string) (Result, error) {
	switch r := Result(s); r {
	case ResultEarned, ResultDeclined, ResultError:
		return r, nil
	default:
		return "", fmt.Errorf("unknown ad result %q (want earned, declined or error)", s)
	}
}

// Static always produces the same result.
type Static struct {
	Result Result
}

// RequestGrant implements access.RewardSource.
func (s Static) RequestGrant(ctx context.Context, _, _ string) (access.Grant, error) {
	if err := ctx.Err(); err != nil {
		return access.Grant{}, err
	}
	switch s.Result {
	case ResultEarned:
		return access.Grant{Earned: true}, nil
	case ResultDeclined:
		return access.Grant{Earned: false}, nil
	default:
		return access.Grant{}, ErrAdFailed
	}
}
