package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewRepoSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRecordAndListSessions(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.RecordConnected("sess-a", 1, "127.0.0.1:1234"))
	require.NoError(t, repo.RecordConnected("sess-b", 2, "127.0.0.1:5678"))

	records, err := repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Nil(t, rec.DisconnectedAt)
		assert.Empty(t, rec.Reason)
	}
}

func TestRecordDisconnected(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.RecordConnected("sess-a", 1, "127.0.0.1:1234"))
	require.NoError(t, repo.RecordDisconnected("sess-a", "websocket: close 1000 (normal)"))

	records, err := repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "sess-a", rec.SessionID)
	assert.Equal(t, uint64(1), rec.Generation)
	require.NotNil(t, rec.DisconnectedAt)
	assert.Contains(t, rec.Reason, "close 1000")
}

func TestListRecentLimit(t *testing.T) {
	repo := newTestRepo(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordConnected(
			"sess-"+string(rune('a'+i)), uint64(i+1), "127.0.0.1:1"))
	}

	records, err := repo.ListRecent(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
