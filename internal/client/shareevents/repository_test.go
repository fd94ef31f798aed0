package shareevents

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"passvault.dev/passvault/internal/client/migrations"
	"passvault.dev/passvault/internal/logging"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

type fakeRemote struct {
	eventID string
	calls   int
}

func (f *fakeRemote) GetLastEventID(ctx context.Context, userID, shareID string) (string, error) {
	f.calls++
	return f.eventID, nil
}

func TestLastEventID_FetchesOnceThenCaches(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{eventID: "evt-1"}
	repo := NewRepository(NewLocalDatasource(setupDB(t)), remote, logging.Discard())

	got, err := repo.LastEventID(ctx, "user1", "share1", false)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got)
	assert.Equal(t, 1, remote.calls)

	remote.eventID = "evt-2"
	got, err = repo.LastEventID(ctx, "user1", "share1", false)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got)
	assert.Equal(t, 1, remote.calls)
}

func TestLastEventID_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{eventID: "evt-1"}
	repo := NewRepository(NewLocalDatasource(setupDB(t)), remote, logging.Discard())

	_, err := repo.LastEventID(ctx, "user1", "share1", false)
	require.NoError(t, err)

	remote.eventID = "evt-2"
	got, err := repo.LastEventID(ctx, "user1", "share1", true)
	require.NoError(t, err)
	assert.Equal(t, "evt-2", got)

	// The refreshed cursor replaced the cached one.
	got, err = repo.LastEventID(ctx, "user1", "share1", false)
	require.NoError(t, err)
	assert.Equal(t, "evt-2", got)
}

func TestUpsertLastEventID(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{eventID: "evt-remote"}
	repo := NewRepository(NewLocalDatasource(setupDB(t)), remote, logging.Discard())

	require.NoError(t, repo.UpsertLastEventID(ctx, "user1", "share1", "evt-local"))

	got, err := repo.LastEventID(ctx, "user1", "share1", false)
	require.NoError(t, err)
	assert.Equal(t, "evt-local", got)
	assert.Equal(t, 0, remote.calls)
}
