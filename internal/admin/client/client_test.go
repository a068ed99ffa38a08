package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", Options{Retries: 2, Timeout: 5 * time.Second})
}

func TestLogin_StoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body["username"])
		assert.Equal(t, "secret", body["password"])

		w.Write([]byte(`{"ok":true,"token":"tok-1"}`))
	})

	token, err := c.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, "tok-1", c.Token())
}

func TestLogin_BadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"error_code":"INVALID_CREDENTIALS","message":"invalid username or password"}`))
	})

	_, err := c.Login(context.Background(), "admin", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.ErrorCode)
	assert.Empty(t, c.Token())
}

func TestListUsers_FillsUsernames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true,"users":{"alice":{"plan":"trial","days_left":1,"machines":[]},"bob":{"plan":"paid","days_left":30,"machines":["fp"]}}}`))
	})
	c.SetToken("tok")

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users["alice"].Username)
	assert.Equal(t, 30, users["bob"].DaysLeft)
	assert.Equal(t, []string{"fp"}, users["bob"].Machines)
}

func TestUserEndpoints_EscapePath(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.EscapedPath()
		w.Write([]byte(`{"ok":true,"message":"done"}`))
	})

	res, err := c.SetPaid(context.Background(), "a b", 7)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Message)
	assert.Equal(t, "/admin/users/a%20b/set_paid", got)
}

func TestDelete_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"ok":false,"error_code":"NOT_FOUND","message":"not found"}`))
	})

	_, err := c.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true,"key":"backups/x.json"}`))
	})

	res, err := c.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backups/x.json", res.Key)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLogout_ClearsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})
	c.SetToken("tok")

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.Token())
}
