package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/coco/pkg/types"
)

func TestSQLite_AttachDetach(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := NewSQLite()

	_, err := s.Token()
	assert.ErrorIs(t, err, types.ErrStoreDetached)

	require.NoError(t, s.Attach(dir))
	_, err = os.Stat(filepath.Join(dir, DatabaseFile))
	require.NoError(t, err, "database file created")
	assert.ErrorIs(t, s.Attach(dir), types.ErrAlreadyAttached)

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach(), "detach is idempotent")
	assert.ErrorIs(t, s.SetToken("tok"), types.ErrStoreDetached)
	assert.ErrorIs(t, s.ClearToken(), types.ErrStoreDetached)
}

func TestSQLite_TokenLifecycle(t *testing.T) {
	s := NewSQLite()
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }
	require.NoError(t, s.Attach(t.TempDir()))
	defer s.Detach()

	_, err := s.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)

	require.NoError(t, s.SetToken("first"))
	require.NoError(t, s.SetToken("second"))
	token, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	updated, err := s.UpdatedAt()
	require.NoError(t, err)
	assert.True(t, stamp.Equal(updated))

	require.NoError(t, s.ClearToken())
	_, err = s.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)
	require.NoError(t, s.ClearToken(), "clearing an empty store")

	require.NoError(t, s.SetToken("third"))
	require.NoError(t, s.SetToken(""), "empty token clears")
	_, err = s.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)
}

func TestSQLite_TokenSurvivesReattach(t *testing.T) {
	dir := t.TempDir()
	s := NewSQLite()
	require.NoError(t, s.Attach(dir))
	require.NoError(t, s.SetToken("persisted"))
	require.NoError(t, s.Detach())

	reopened := NewSQLite()
	require.NoError(t, reopened.Attach(dir))
	defer reopened.Detach()
	token, err := reopened.Token()
	require.NoError(t, err)
	assert.Equal(t, "persisted", token)
}

func TestMemory(t *testing.T) {
	var store types.CredentialStore = NewMemory()

	_, err := store.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)

	require.NoError(t, store.SetToken("tok"))
	token, err := store.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, store.ClearToken())
	_, err = store.Token()
	assert.ErrorIs(t, err, types.ErrNoToken)
}

func TestCache_SaveLoad(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "cache"))

	_, _, err := c.Load()
	assert.ErrorIs(t, err, types.ErrNoSnapshot)

	typeRecords := []json.RawMessage{
		json.RawMessage(`{"name":"Animal"}`),
		json.RawMessage("{\n  \"name\": \"Dog\",\n  \"parents\": [\"Animal\"]\n}"),
	}
	itemRecords := []json.RawMessage{json.RawMessage(`{"id":"rex","type":"Dog"}`)}
	require.NoError(t, c.Save(typeRecords, itemRecords))

	gotTypes, gotItems, err := c.Load()
	require.NoError(t, err)
	require.Len(t, gotTypes, 2)
	assert.JSONEq(t, `{"name":"Dog","parents":["Animal"]}`, string(gotTypes[1]))
	require.Len(t, gotItems, 1)
	assert.JSONEq(t, string(itemRecords[0]), string(gotItems[0]))

	// Saving again replaces the snapshot.
	require.NoError(t, c.Save(typeRecords[:1], nil))
	gotTypes, gotItems, err = c.Load()
	require.NoError(t, err)
	assert.Len(t, gotTypes, 1)
	assert.Empty(t, gotItems)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestCache_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "{\"name\":\"Animal\"}\n\nnot json\n{\"name\":\"Dog\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, TypesFile), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ItemsFile), nil, 0o644))

	typeRecords, itemRecords, err := NewCache(dir).Load()
	require.NoError(t, err)
	assert.Len(t, typeRecords, 2)
	assert.Empty(t, itemRecords)
}

func TestCache_SaveRejectsInvalidRecord(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)
	err := c.Save([]json.RawMessage{json.RawMessage(`{"name":`)}, nil)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed save leaves nothing behind")
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(t.TempDir())
	require.NoError(t, c.Clear(), "clearing an empty cache")
	require.NoError(t, c.Save(nil, nil))
	require.NoError(t, c.Clear())
	_, _, err := c.Load()
	assert.ErrorIs(t, err, types.ErrNoSnapshot)
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "future exp", token: sign(jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), want: false},
		{name: "past exp", token: sign(jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}), want: true},
		{name: "exp equals now", token: sign(jwt.MapClaims{"exp": now.Unix()}), want: true},
		{name: "no exp", token: sign(jwt.MapClaims{"sub": "ann"}), want: false},
		{name: "opaque token", token: "d2b0f1c6a9e84f", want: false},
		{name: "empty", token: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenExpired(tt.token, now))
		})
	}
}
