package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfer-io/ctfd-deploy/pkg/blob"
	"github.com/ctfer-io/ctfd-deploy/pkg/challenge"
	"github.com/ctfer-io/ctfd-deploy/pkg/challsync"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

type fakeApp struct {
	calls int
}

func (f *fakeApp) CreateChallenge(context.Context, challenge.Challenge) error {
	f.calls++
	return nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *fakeApp) {
	t.Helper()

	store := secrets.NewMemory()
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/buckets/assets/web100.yaml", []byte("name: web100\ncategory: web\nvalue: 100\n"), 0o644))

	app := &fakeApp{}
	handler := challsync.NewHandler(
		challsync.Config{SecretName: "ctfd/admin-token"},
		store,
		blob.NewFSDir(fs, "/buckets"),
		func(string) (challsync.AppClient, error) { return app, nil },
	)

	mux, err := newMux(handler, store, time.Second)
	require.NoError(t, err)
	return mux, app
}

func TestEventsEndpointRejectsNonPOST(t *testing.T) {
	mux, app := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, app.calls)
}

func TestEventsEndpointRejectsMalformedEnvelope(t *testing.T) {
	mux, app := newTestMux(t)

	for name, body := range map[string]string{
		"garbage":        `{"Records": [{`,
		"empty envelope": `{"Records": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

			// Rejected outright, nothing reaches the application.
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, app.calls)
		})
	}
}

func TestEventsEndpointAppliesEnvelope(t *testing.T) {
	mux, app := newTestMux(t)

	body := `{"Records": [{"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "assets"}, "object": {"key": "web100.yaml"}}}]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, app.calls)
}

// downStore is a reachable-records store whose backend stopped
// answering.
type downStore struct {
	secrets.Store
}

func (downStore) Ping(context.Context, string) error {
	return errors.New("dial tcp 127.0.0.1:2379: connect: connection refused")
}

func TestHealthzReportsStoreOutage(t *testing.T) {
	t.Run("store up", func(t *testing.T) {
		mux, _ := newTestMux(t)

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret-store")
	})

	t.Run("store down", func(t *testing.T) {
		handler := challsync.NewHandler(
			challsync.Config{SecretName: "ctfd/admin-token"},
			downStore{Store: secrets.NewMemory()},
			blob.NewFSDir(afero.NewMemMapFs(), "/buckets"),
			func(string) (challsync.AppClient, error) { return &fakeApp{}, nil },
		)
		mux, err := newMux(handler, downStore{Store: secrets.NewMemory()}, time.Second)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		// The check is best-effort (it never takes the webhook down)
		// but the outage has to show up in the report.
		assert.Contains(t, rec.Body.String(), "secret-store")
	})
}
