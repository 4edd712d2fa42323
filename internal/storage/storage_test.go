package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds every Store implementation for the shared contract tests.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "hopper.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite3": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "hopper.db"), WithDriver(DriverCGO))
			if err != nil {
				t.Skipf("cgo sqlite driver unavailable: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Put(ctx, "queries/q1/state.json", []byte(`{"a":1}`)))
				require.NoError(t, s.Put(ctx, "queries/q1/state.json", []byte(`{"a":2}`)))

				data, err := s.Get(ctx, "queries/q1/state.json")
				require.NoError(t, err)
				assert.Equal(t, `{"a":2}`, string(data))
			})

			t.Run("missing path", func(t *testing.T) {
				s := factory(t)
				_, err := s.Get(ctx, "queries/none/state.json")
				assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
			})

			t.Run("list by prefix", func(t *testing.T) {
				s := factory(t)
				for _, p := range []string{
					"queries/q1/history/00000002-b.json",
					"queries/q1/history/00000001-a.json",
					"queries/q1/state.json",
					"queries/q10/state.json",
				} {
					require.NoError(t, s.Put(ctx, p, []byte("x")))
				}

				got, err := s.List(ctx, "queries/q1/")
				require.NoError(t, err)
				assert.Equal(t, []string{
					"queries/q1/history/00000001-a.json",
					"queries/q1/history/00000002-b.json",
					"queries/q1/state.json",
				}, got)

				all, err := s.List(ctx, "")
				require.NoError(t, err)
				assert.Len(t, all, 4)
			})

			t.Run("remove all is scoped and idempotent", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Put(ctx, "queries/q1/state.json", []byte("x")))
				require.NoError(t, s.Put(ctx, "queries/q10/state.json", []byte("y")))

				require.NoError(t, s.RemoveAll(ctx, "queries/q1/"))
				require.NoError(t, s.RemoveAll(ctx, "queries/q1/"))

				_, err := s.Get(ctx, "queries/q1/state.json")
				assert.ErrorIs(t, err, ErrNotFound)
				data, err := s.Get(ctx, "queries/q10/state.json")
				require.NoError(t, err)
				assert.Equal(t, "y", string(data))
			})

			t.Run("rejects escaping paths", func(t *testing.T) {
				s := factory(t)
				for _, p := range []string{"", "/abs", "../up", "a/../../up"} {
					assert.Error(t, s.Put(ctx, p, []byte("x")), "path %q", p)
				}
			})

			t.Run("concurrent writers", func(t *testing.T) {
				s := factory(t)
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						assert.NoError(t, s.Put(ctx, "shared/key", []byte{byte('a' + i)}))
					}(i)
				}
				wg.Wait()

				data, err := s.Get(ctx, "shared/key")
				require.NoError(t, err)
				assert.Len(t, data, 1)
			})
		})
	}
}

func TestOpenSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hopper.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, 2, version)

	data, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
	assert.Equal(t, path, s.Path())
	assert.Equal(t, DriverModernc, s.Driver())
}

func TestOpenSQLite_UnknownDriver(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), WithDriver("postgres"))
	assert.Error(t, err)
}

func TestSQLiteStore_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "hopper.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "old", []byte("x")))
	_, err = s.conn.Exec("UPDATE entries SET updated_at = ? WHERE path = 'old'", formatTime(time.Now().Add(-48*time.Hour)))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "new", []byte("y")))

	n, err := s.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	paths, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, paths)
}
