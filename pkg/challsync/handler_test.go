package challsync_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfer-io/ctfd-deploy/pkg/blob"
	"github.com/ctfer-io/ctfd-deploy/pkg/challenge"
	"github.com/ctfer-io/ctfd-deploy/pkg/challsync"
	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

type fakeApp struct {
	token    string
	existing map[string]bool
	created  []challenge.Challenge
	calls    int
}

func (f *fakeApp) CreateChallenge(_ context.Context, chall challenge.Challenge) error {
	f.calls++
	if f.existing[chall.Name] {
		return &errs.ErrDuplicate{Name: chall.Name, Sub: errors.New("already exists")}
	}
	f.existing[chall.Name] = true
	f.created = append(f.created, chall)
	return nil
}

type capturingReporter struct {
	failures []challsync.RecordFailure
}

func (r *capturingReporter) RecordFailure(_ context.Context, _ string, f challsync.RecordFailure) {
	r.failures = append(r.failures, f)
}

func setup(t *testing.T) (*fakeApp, *secrets.Memory, afero.Fs, *capturingReporter, *challsync.Handler) {
	t.Helper()

	app := &fakeApp{existing: map[string]bool{}}
	store := secrets.NewMemory()
	fs := afero.NewMemMapFs()
	reporter := &capturingReporter{}

	h := challsync.NewHandler(
		challsync.Config{SecretName: "ctfd/admin-token"},
		store,
		blob.NewFSDir(fs, "/buckets"),
		func(token string) (challsync.AppClient, error) {
			app.token = token
			return app, nil
		},
		challsync.WithReporter(reporter),
	)
	return app, store, fs, reporter, h
}

func putObject(t *testing.T, fs afero.Fs, bucket, key, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/buckets/"+bucket+"/"+key, []byte(body), 0o644))
}

const webAsset = `
- name: web100
  category: web
  value: 100
  flags: ["CTF{a}"]
`

func TestHandleAppliesRecords(t *testing.T) {
	app, store, fs, _, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	putObject(t, fs, "assets", "challenges/web100.yaml", webAsset)

	res, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/web100.yaml",
		EventName: "ObjectCreated:Put",
	})
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Failures)
	assert.Equal(t, "tok-1", app.token)
	require.Len(t, app.created, 1)
	assert.Equal(t, "web100", app.created[0].Name)
}

func TestHandleRejectsWrongSuffix(t *testing.T) {
	app, store, fs, _, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	putObject(t, fs, "assets", "challenges/readme.txt", "not a challenge")

	res, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/readme.txt",
		EventName: "ObjectCreated:Put",
	})
	require.NoError(t, err)

	// Rejected without side effects.
	assert.True(t, res.Skipped)
	assert.Zero(t, app.calls)
}

func TestHandleNormalizesConfiguredSuffixes(t *testing.T) {
	app := &fakeApp{existing: map[string]bool{}}
	store := secrets.NewMemory()
	fs := afero.NewMemMapFs()
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	putObject(t, fs, "assets", "challenges/web100.yaml", webAsset)

	// Matching lowercases the key, so a shouting suffix still matches.
	h := challsync.NewHandler(
		challsync.Config{SecretName: "ctfd/admin-token", Suffixes: []string{".YAML"}},
		store,
		blob.NewFSDir(fs, "/buckets"),
		func(string) (challsync.AppClient, error) { return app, nil },
	)

	res, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/web100.yaml",
		EventName: "ObjectCreated:Put",
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Applied)
}

func TestHandleRejectsNonCreationEvents(t *testing.T) {
	app, _, _, _, h := setup(t)

	res, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/web100.yaml",
		EventName: "ObjectRemoved:Delete",
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, app.calls)
}

func TestHandleBeforeBootstrapCompletes(t *testing.T) {
	app, _, fs, _, h := setup(t)
	putObject(t, fs, "assets", "challenges/web100.yaml", webAsset)

	_, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/web100.yaml",
		EventName: "ObjectCreated:Put",
	})

	// Read-before-write race resolves to CredentialUnavailable, not a
	// crash, and no API call happens.
	var unavailable *errs.ErrCredentialUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Zero(t, app.calls)
}

func TestHandleMissingObject(t *testing.T) {
	app, store, _, _, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))

	_, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/ghost.yaml",
		EventName: "ObjectCreated:Put",
	})

	var unavailable *errs.ErrObjectUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Zero(t, app.calls)
}

func TestHandleMalformedAsset(t *testing.T) {
	app, store, fs, _, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	putObject(t, fs, "assets", "challenges/bad.yaml", "{{{definitely not yaml")

	_, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/bad.yaml",
		EventName: "ObjectCreated:Put",
	})

	// Malformed input yields zero API calls: no partial application.
	var malformed *errs.ErrMalformedInput
	require.ErrorAs(t, err, &malformed)
	assert.Zero(t, app.calls)
}

func TestHandlePartialApplication(t *testing.T) {
	app, store, fs, reporter, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	app.existing["pwn200"] = true
	putObject(t, fs, "assets", "challenges/batch.yaml", `
- name: web100
  category: web
  value: 100
- name: pwn200
  category: pwn
  value: 200
- name: crypto300
  category: crypto
  value: 300
`)

	res, err := h.Handle(context.Background(), challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/batch.yaml",
		EventName: "ObjectCreated:Put",
	})
	require.NoError(t, err)

	// One record fails as duplicate, the others still go through.
	assert.Equal(t, 2, res.Applied)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "pwn200", res.Failures[0].Name)
	assert.True(t, res.Failures[0].Duplicate)
	require.Len(t, reporter.failures, 1)
	assert.Error(t, res.Err())
}

func TestHandleRedelivery(t *testing.T) {
	app, store, fs, _, h := setup(t)
	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	putObject(t, fs, "assets", "challenges/batch.yaml", `
- name: web100
  category: web
  value: 100
- name: pwn200
  category: pwn
  value: 200
`)

	ev := challsync.Event{
		Bucket:    "assets",
		Key:       "challenges/batch.yaml",
		EventName: "ObjectCreated:Put",
	}

	first, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Applied)
	assert.Empty(t, first.Failures)

	// Re-delivery attempts everything again: twice the API calls, the
	// second batch fully reported as per-record duplicates, and no
	// crash.
	second, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 4, app.calls)
	assert.Zero(t, second.Applied)
	require.Len(t, second.Failures, 2)
	for _, f := range second.Failures {
		assert.True(t, f.Duplicate)
	}
}
