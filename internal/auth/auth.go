// Package auth resolves the bearer token on an RPC request into a User,
// the value passed to action handlers per the action handler contract
// "(input, user | null) -> O" (SPEC_FULL.md §8).
package auth

import "context"

// User is what a Resolver produces from a valid token. RPC actions receive
// *User (or nil, for unauthenticated calls) alongside their decoded input.
type User struct {
	Subject string         // e.g. "user:42" or "apikey:ci-runner"
	Tier    string         // rate-limit / plan tier, resolver-defined
	Claims  map[string]any // raw claims or metadata backing Subject/Tier
}

// Resolver turns a bearer token into a User. It returns (nil, nil) for a
// token that does not resolve to anyone (expired, unknown, malformed) —
// that is not itself an error, it just means the request proceeds
// unauthenticated, and the server layer decides whether that's acceptable
// based on the action's authRequired flag.
type Resolver interface {
	ResolveUser(ctx context.Context, token string) (*User, error)
}

// ChainResolver tries each Resolver in order and returns the first non-nil
// User, mirroring the teacher's authenticator-chain pattern.
type ChainResolver []Resolver

func (c ChainResolver) ResolveUser(ctx context.Context, token string) (*User, error) {
	for _, r := range c {
		u, err := r.ResolveUser(ctx, token)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
	return nil, nil
}

const bearerPrefix = "Bearer "

// ParseBearerToken extracts the token from an Authorization header value.
// It returns ok=false if the header is empty or not a Bearer scheme.
func ParseBearerToken(header string) (token string, ok bool) {
	if len(header) <= len(bearerPrefix) || header[:len(bearerPrefix)] != bearerPrefix {
		return "", false
	}
	return header[len(bearerPrefix):], true
}
