// Package rpcclient implements the HTTP side of the binary RPC contract
// from the caller's point of view: a typed action caller whose login state
// is itself reactive, built on the same Cell/Dispatcher primitives as the
// rest of this module.
package rpcclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/oriys/reactiverpc/internal/cell"
	"github.com/oriys/reactiverpc/internal/dispatcher"
	"github.com/oriys/reactiverpc/internal/rpcenvelope"
)

// defaultLoginTimeout is applied to Login's context when the caller's
// context carries no deadline of its own, so a login call against an
// unreachable server fails instead of blocking forever.
const defaultLoginTimeout = 10 * time.Second

// UserData is the payload returned by the auth/whoami action. Its shape is
// server-defined; callers decode it further if they need typed fields.
type UserData map[string]any

// HTTPDoer is satisfied by *http.Client; accepting the interface lets
// callers substitute an instrumented transport in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a typed, authenticated RPC caller. Its login state is exposed
// as a reactive Dispatcher: setting the auth token re-triggers an
// auth/whoami call, and the result is visible on User.StateCell().
type Client struct {
	URL  string
	http HTTPDoer

	authToken *cell.Cell[*string]
	User      *dispatcher.Dispatcher[*string, *UserData]
}

// New creates a Client against the given base URL (no trailing slash
// expected, e.g. "http://localhost:8080").
func New(url string) *Client {
	return NewWithHTTP(url, http.DefaultClient)
}

// NewWithHTTP is like New but lets the caller substitute the HTTP
// transport, for testing against an httptest.Server with a custom client
// or for injecting request tracing.
func NewWithHTTP(url string, doer HTTPDoer) *Client {
	c := &Client{
		URL:       url,
		http:      doer,
		authToken: cell.New[*string](nil),
	}
	c.User = dispatcher.New(c.authToken, c.resolveUser, 0)
	return c
}

func (c *Client) resolveUser(ctx context.Context, token *string, _ func(float64), _ *dispatcher.Controller) (*UserData, error) {
	if token == nil {
		return nil, nil
	}
	user, err := Exec[struct{}, UserData](c, ctx, "auth/whoami", struct{}{})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// decodedPayload unwraps just the payload field of a response envelope,
// typed as O, so Exec never has to juggle an untyped any decoded via
// msgpack's default map/slice representation.
type decodedPayload[O any] struct {
	Payload O `msgpack:"payload"`
}

// SetAuthToken installs a new bearer token, or clears it when t is nil.
// It is a no-op if t is equal (by value) to the currently installed
// token, so repeated logins with the same token don't re-trigger the
// whoami dispatch.
func (c *Client) SetAuthToken(t *string) {
	if equalTokens(c.authToken.Value(), t) {
		return
	}
	c.authToken.Set(t)
}

func equalTokens(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Login sets the auth token and waits for the resulting auth/whoami
// dispatch to leave its loading state, returning whether it resolved ok
// with a user. A rejected token is cleared by unsafeExec, so the dispatch
// then settles on a nil user and Login reports false. If ctx carries no deadline, a default 10s deadline is applied so a call
// against an unreachable server returns rather than blocking forever.
func (c *Client) Login(ctx context.Context, t string) (bool, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLoginTimeout)
		defer cancel()
	}

	c.SetAuthToken(&t)

	result := make(chan dispatcher.State[*UserData], 1)
	unsubscribe := c.User.StateCell().Subscribe(func(s dispatcher.State[*UserData]) {
		if s.Status != dispatcher.StatusLoading {
			select {
			case result <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := c.User.StateCell().Value(); s.Status != dispatcher.StatusLoading {
		select {
		case result <- s:
		default:
		}
	}

	select {
	case s := <-result:
		return s.Status == dispatcher.StatusOk && s.Data != nil, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Exec performs a typed action call. It is a free function rather than a
// method because Go methods cannot carry their own type parameters.
func Exec[I, O any](c *Client, ctx context.Context, action string, input I) (O, error) {
	var zero O
	respBody, err := c.unsafeExec(ctx, "/exec/"+action, input)
	if err != nil {
		return zero, err
	}
	var decoded decodedPayload[O]
	if err := rpcenvelope.Decode(respBody, &decoded); err != nil {
		return zero, err
	}
	return decoded.Payload, nil
}

// unsafeExec implements the HTTP status dispatch table shared by every
// action call: 200 returns the raw response bytes for the caller to decode
// into its own type, 401/403 invalidate the token (only if it hasn't
// changed since this call started) and raise PermissionDenied, and every
// other status maps through rpcenvelope.DecodeErrorBody.
func (c *Client) unsafeExec(ctx context.Context, path string, input any) ([]byte, error) {
	testedToken := c.authToken.Value()

	reqBody, err := rpcenvelope.Encode(input)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", rpcenvelope.ContentType)
	if testedToken != nil {
		req.Header.Set("Authorization", "Bearer "+*testedToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return respBody, nil
	}

	var errBody rpcenvelope.Body
	_ = rpcenvelope.Decode(respBody, &errBody)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if equalTokens(c.authToken.Value(), testedToken) {
			c.authToken.Set(nil)
		}
	}

	return nil, rpcenvelope.DecodeErrorBody(resp.StatusCode, errBody)
}
