package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, c Compression) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.sqlite3"), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores(t *testing.T) {
	for name, open := range map[string]func(t *testing.T) Store{
		"memory":      func(t *testing.T) Store { return NewMemory() },
		"sqlite-none": func(t *testing.T) Store { return openTestSQLite(t, CompressionNone) },
		"sqlite-zstd": func(t *testing.T) Store { return openTestSQLite(t, CompressionZstd) },
		"sqlite-lz4":  func(t *testing.T) Store { return openTestSQLite(t, CompressionLZ4) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Load(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Save(ctx, 1, "x"), ErrNotFound)

			require.NoError(t, s.Create(ctx, 1, "hello"))
			assert.ErrorIs(t, s.Create(ctx, 1, "again"), ErrExists)

			content, err := s.Load(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "hello", content)

			long := strings.Repeat("the quick brown fox ", 200) + "日本語"
			require.NoError(t, s.Save(ctx, 1, long))
			content, err = s.Load(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, long, content)

			// unchanged content is not an error
			require.NoError(t, s.Save(ctx, 1, long))

			require.NoError(t, s.Save(ctx, 1, ""))
			content, err = s.Load(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "", content)

			require.NoError(t, s.Create(ctx, 7, "seven"))
			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, int64(1), infos[0].FileID)
			assert.Equal(t, int64(7), infos[1].FileID)
			assert.Equal(t, 5, infos[1].Size)
			assert.Equal(t, Digest("seven"), infos[1].Digest)
		})
	}
}

func TestSQLiteCompressesText(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, CompressionZstd)
	require.NoError(t, s.Create(ctx, 3, strings.Repeat("abc", 1000)))
	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, CompressionZstd, infos[0].Compression)
	assert.Equal(t, 3000, infos[0].Size)
}

func TestEncodeFallsBackForTinyContent(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		body, used, err := encode([]byte("ab"), c)
		require.NoError(t, err)
		assert.Equal(t, CompressionNone, used)
		assert.Equal(t, []byte("ab"), body)
	}
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	c, err = ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}

func TestOpenSQLiteReadOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.sqlite3")
	_, err := OpenSQLiteReadOnly(ctx, missing)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(missing)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "files.sqlite3")
	rw, err := OpenSQLite(ctx, path, CompressionZstd)
	require.NoError(t, err)
	require.NoError(t, rw.Create(ctx, 1, strings.Repeat("hello ", 50)))
	require.NoError(t, rw.Close())

	ro, err := OpenSQLiteReadOnly(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })
	content, err := ro.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("hello ", 50), content)
	assert.Error(t, ro.Save(ctx, 1, "changed"))
}
