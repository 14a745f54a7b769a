package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepperpark/mailcache/internal/imaputil"
	"github.com/pepperpark/mailcache/internal/imapwire"
	"github.com/pepperpark/mailcache/internal/logging"
	"github.com/pepperpark/mailcache/internal/state"
	"github.com/pepperpark/mailcache/internal/syncer"
)

type stubRunner struct {
	got *syncer.Request
	rep *syncer.Report
	err error
}

func (r *stubRunner) Run(_ context.Context, req syncer.Request) (*syncer.Report, error) {
	r.got = &req
	return r.rep, r.err
}

func newTestServer(t *testing.T, runner Runner) (*httptest.Server, state.Store) {
	t.Helper()
	st, err := state.Load("")
	require.NoError(t, err)
	srv := httptest.NewServer(New(runner, st, zerolog.Nop(), logging.Redactor{}).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST, GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestSyncSuccess(t *testing.T) {
	runner := &stubRunner{rep: &syncer.Report{
		RunID:       "run-1",
		TotalSynced: 3,
		Folders:     []syncer.FolderResult{{Folder: "INBOX", Synced: 3, Status: syncer.StatusSuccess}},
	}}
	srv, _ := newTestServer(t, runner)

	resp, out := post(t, srv.URL+"/", `{
		"imap_config": {"host": "imap.example.org", "port": 993, "user": "alice", "pass": "pw"},
		"user_email": "alice@example.org",
		"sync_folders": ["INBOX"]
	}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(3), out["total_synced"])
	folders := out["folders"].([]any)
	require.Len(t, folders, 1)
	assert.Equal(t, map[string]any{"folder": "INBOX", "synced": float64(3), "status": "success"}, folders[0])

	require.NotNil(t, runner.got)
	assert.Equal(t, "imap.example.org", runner.got.Endpoint.Host)
	assert.Equal(t, 993, runner.got.Endpoint.Port)
	assert.Equal(t, "alice", runner.got.User)
	assert.Equal(t, "alice@example.org", runner.got.Mailbox)
	assert.Equal(t, syncer.Folders("INBOX"), runner.got.Folders)
}

func TestSyncAllFoldersOnSyncPath(t *testing.T) {
	runner := &stubRunner{rep: &syncer.Report{Folders: []syncer.FolderResult{}}}
	srv, _ := newTestServer(t, runner)
	resp, out := post(t, srv.URL+"/sync", `{"imap_config":{"host":"h"},"user_email":"a@b.c","sync_folders":"all"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), out["total_synced"])
	assert.True(t, runner.got.Folders.All)
}

func TestSyncBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	cases := map[string]struct {
		body string
		want string
	}{
		"malformed":       {`{"imap_config":`, "Invalid request body"},
		"no imap_config":  {`{"user_email":"a@b.c"}`, "Missing configuration"},
		"null imap_config": {`{"imap_config":null,"user_email":"a@b.c"}`, "Missing configuration"},
		"no user_email":   {`{"imap_config":{"host":"h"}}`, "Missing configuration"},
		"bad folders":     {`{"imap_config":{"host":"h"},"user_email":"a","sync_folders":7}`, "Invalid request body"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.want, out["error"])
		})
	}
}

func TestSyncFailureIs500(t *testing.T) {
	runner := &stubRunner{err: &imaputil.AuthError{User: "alice", Info: "[AUTHENTICATIONFAILED] nope"}}
	srv, _ := newTestServer(t, runner)
	resp, out := post(t, srv.URL+"/", `{"imap_config":{"host":"h","user":"alice"},"user_email":"a@b.c"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, out["error"], "AUTHENTICATIONFAILED")
}

func TestIncompleteConfigIsConnectError(t *testing.T) {
	st, err := state.Load("")
	require.NoError(t, err)
	sy := syncer.New(syncer.DialIMAP(imapwire.Options{}), st, zerolog.Nop(), syncer.Options{})
	srv, _ := newTestServer(t, sy)
	resp, out := post(t, srv.URL+"/", `{"imap_config":{"user":"alice"},"user_email":"a@b.c"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, out["error"], "missing host")
}

func TestReadEndpoints(t *testing.T) {
	srv, st := newTestServer(t, &stubRunner{})
	ctx := context.Background()
	require.NoError(t, st.UpsertMessage(ctx, state.Message{Mailbox: "a@b.c", Folder: "INBOX", UID: 4, Subject: "hi"}))
	require.NoError(t, st.PutCursor(ctx, state.Cursor{Mailbox: "a@b.c", Folder: "INBOX", UIDValidity: 9, UIDNext: 5}))

	resp, err := http.Get(srv.URL + "/messages?user_email=a@b.c")
	require.NoError(t, err)
	var msgs []state.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	resp.Body.Close()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Subject)

	resp, err = http.Get(srv.URL + "/cursors?user_email=a@b.c")
	require.NoError(t, err)
	var cursors []state.Cursor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cursors))
	resp.Body.Close()
	require.Len(t, cursors, 1)
	assert.Equal(t, uint32(5), cursors[0].UIDNext)

	resp, err = http.Get(srv.URL + "/cursors")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, l, http.NotFoundHandler(), zerolog.Nop()) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
}
