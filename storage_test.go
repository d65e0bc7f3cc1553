package gatherly

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) SecureStore {
	t.Helper()
	return map[string]func(t *testing.T) SecureStore{
		"memory": func(t *testing.T) SecureStore { return NewMemoryStore() },
		"file": func(t *testing.T) SecureStore {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) SecureStore {
			s, err := OpenSQLStore(filepath.Join(t.TempDir(), "store.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"encrypted": func(t *testing.T) SecureStore {
			key, err := DeriveKey("passphrase", []byte("0123456789abcdef"))
			require.NoError(t, err)
			s, err := NewEncryptedStore(NewMemoryStore(), key)
			require.NoError(t, err)
			return s
		},
	}
}

func TestSecureStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			_, err := s.Get(ctx, KeyAccessToken)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, KeyAccessToken, "tok-1"))
			v, err := s.Get(ctx, KeyAccessToken)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", v)

			require.NoError(t, s.Set(ctx, KeyAccessToken, "tok-2"))
			v, err = s.Get(ctx, KeyAccessToken)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", v)

			require.NoError(t, s.Delete(ctx, KeyAccessToken))
			_, err = s.Get(ctx, KeyAccessToken)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, KeyAccessToken), "deleting a missing key")
		})
	}
}

func TestSecureStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, factory := range storeFactories(t) {
		if name == "encrypted" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			err := factory(t).Set(ctx, "../escape", "x")
			assert.Error(t, err)
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), KeyUser, `{"id":1}`))

	info, err := os.Stat(filepath.Join(dir, KeyUser+".dat"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	s, err := OpenSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyPendingActions, `[{"type":"join","eventId":3}]`))
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, KeyPendingActions)
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"join","eventId":3}]`, v)
}

func TestEncryptedStore(t *testing.T) {
	ctx := context.Background()
	key, err := DeriveKey("correct horse", []byte("static-salt-0001"))
	require.NoError(t, err)

	t.Run("ciphertext at rest", func(t *testing.T) {
		inner := NewMemoryStore()
		s, err := NewEncryptedStore(inner, key)
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, KeyAccessToken, "secret-token"))

		raw, err := inner.Get(ctx, KeyAccessToken)
		require.NoError(t, err)
		assert.NotContains(t, raw, "secret-token")
	})

	t.Run("value bound to its key", func(t *testing.T) {
		inner := NewMemoryStore()
		s, err := NewEncryptedStore(inner, key)
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, KeyAccessToken, "secret-token"))

		raw, _ := inner.Get(ctx, KeyAccessToken)
		require.NoError(t, inner.Set(ctx, KeyUser, raw))
		_, err = s.Get(ctx, KeyUser)
		assert.Error(t, err)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		inner := NewMemoryStore()
		s, _ := NewEncryptedStore(inner, key)
		require.NoError(t, s.Set(ctx, KeyUser, "profile"))

		other, err := DeriveKey("wrong", []byte("static-salt-0001"))
		require.NoError(t, err)
		s2, _ := NewEncryptedStore(inner, other)
		_, err = s2.Get(ctx, KeyUser)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("undecodable value is corrupt", func(t *testing.T) {
		inner := NewMemoryStore()
		s, _ := NewEncryptedStore(inner, key)
		for _, raw := range []string{"not-a-sealed-blob!!", "c2hvcnQ="} {
			require.NoError(t, inner.Set(ctx, KeyUser, raw))
			_, err := s.Get(ctx, KeyUser)
			assert.ErrorIs(t, err, ErrCorrupt, raw)
		}
	})

	t.Run("short key rejected", func(t *testing.T) {
		_, err := NewEncryptedStore(NewMemoryStore(), []byte("short"))
		assert.Error(t, err)
	})
}

func TestLoadOrCreateSalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salt")
	first, err := LoadOrCreateSalt(path)
	require.NoError(t, err)
	assert.Len(t, first, 16)

	second, err := LoadOrCreateSalt(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
