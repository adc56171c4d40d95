package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/reactiverpc/internal/dispatcher"
	"github.com/oriys/reactiverpc/internal/rpcenvelope"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL)
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, body rpcenvelope.Body) {
	t.Helper()
	data, err := rpcenvelope.Encode(body)
	require.NoError(t, err)
	w.Header().Set("Content-Type", rpcenvelope.ContentType)
	w.WriteHeader(status)
	w.Write(data)
}

func TestExecDecodesOkPayload(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exec/greet", r.URL.Path)
		require.Equal(t, rpcenvelope.ContentType, r.Header.Get("Content-Type"))
		writeEnvelope(t, w, http.StatusOK, rpcenvelope.Body{Payload: map[string]any{"msg": "hi"}})
	})

	out, err := Exec[map[string]any, map[string]any](c, context.Background(), "greet", map[string]any{"name": "a"})
	require.NoError(t, err)
	require.Equal(t, "hi", out["msg"])
}

func TestExecSendsBearerTokenWhenSet(t *testing.T) {
	var gotAuth string
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(t, w, http.StatusOK, rpcenvelope.Body{Payload: map[string]any{}})
	})

	tok := "secret-token"
	c.SetAuthToken(&tok)
	_, err := Exec[map[string]any, map[string]any](c, context.Background(), "secure", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "Bearer secret-token", gotAuth)
}

func TestExecOn401InvalidatesTokenAndRaisesPermissionDenied(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusUnauthorized, rpcenvelope.Body{Error: "nope"})
	})

	tok := "stale-token"
	c.SetAuthToken(&tok)
	_, err := Exec[map[string]any, map[string]any](c, context.Background(), "secure", map[string]any{})
	require.Error(t, err)
	require.IsType(t, &rpcenvelope.PermissionDeniedError{}, err)
	require.Nil(t, c.authToken.Value())
}

func TestExecOn401DoesNotClobberTokenChangedDuringCall(t *testing.T) {
	release := make(chan struct{})
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exec/secure" {
			<-release
			writeEnvelope(t, w, http.StatusUnauthorized, rpcenvelope.Body{Error: "nope"})
			return
		}
		// the auth/whoami calls the token-change dispatcher fires on every
		// SetAuthToken must not themselves trigger the race under test.
		writeEnvelope(t, w, http.StatusOK, rpcenvelope.Body{Payload: map[string]any{}})
	})

	firstToken := "first"
	c.SetAuthToken(&firstToken)

	done := make(chan error, 1)
	go func() {
		_, err := Exec[map[string]any, map[string]any](c, context.Background(), "secure", map[string]any{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	newToken := "second"
	c.SetAuthToken(&newToken)
	close(release)

	err := <-done
	require.Error(t, err)
	require.NotNil(t, c.authToken.Value())
	require.Equal(t, "second", *c.authToken.Value())
}

func TestExecMapsStatusesToErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    rpcenvelope.Body
		wantErr any
	}{
		{"not found", http.StatusNotFound, rpcenvelope.Body{}, &rpcenvelope.NotFoundError{}},
		{"validation", http.StatusUnprocessableEntity, rpcenvelope.Body{Errors: []rpcenvelope.ValidationIssue{{Path: "$.x", Message: "bad"}}}, &rpcenvelope.ValidationError{}},
		{"bad request", http.StatusBadRequest, rpcenvelope.Body{Code: "Bad", Error: "bad input"}, &rpcenvelope.ServerError{}},
		{"server error", http.StatusInternalServerError, rpcenvelope.Body{Code: "Oops", Error: "boom"}, &rpcenvelope.ServerError{}},
		{"unexpected", http.StatusTeapot, rpcenvelope.Body{}, &rpcenvelope.UnexpectedStatusError{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, tc.status, tc.body)
			})
			_, err := Exec[map[string]any, map[string]any](c, context.Background(), "whatever", map[string]any{})
			require.Error(t, err)
			require.IsType(t, tc.wantErr, err)
		})
	}
}

func TestSetAuthTokenIsNoOpWhenTokenUnchanged(t *testing.T) {
	calls := 0
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeEnvelope(t, w, http.StatusOK, rpcenvelope.Body{Payload: map[string]any{}})
	})

	tok := "same"
	c.SetAuthToken(&tok)
	require.Eventually(t, func() bool { return calls == 1 }, time.Second, 5*time.Millisecond)

	tok2 := "same"
	c.SetAuthToken(&tok2)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, calls, "whoami should not re-dispatch for an equal token")
}

func TestLoginResolvesTrueOnSuccessfulWhoami(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, rpcenvelope.Body{Payload: map[string]any{"id": "u1"}})
	})

	ok, err := c.Login(context.Background(), "a-token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dispatcher.StatusOk, c.User.StateCell().Value().Status)
}

func TestLoginResolvesFalseWhenWhoamiErrors(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusUnauthorized, rpcenvelope.Body{Error: "nope"})
	})

	ok, err := c.Login(context.Background(), "bad-token")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoginReturnsContextErrorOnTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := c.Login(ctx, "slow-token")
	require.Error(t, err)
	require.False(t, ok)
}
