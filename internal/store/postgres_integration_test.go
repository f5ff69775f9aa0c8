package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = ApplyMigrations(ctx, db, migrationsDir())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `TRUNCATE cases`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	c := NewCase("pg-1", "ABC Pvt Ltd", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.Create(ctx, c))
	assert.ErrorIs(t, s.Create(ctx, c), ErrExists)

	got, err := s.Get(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Len(t, got.Directors, DirectorCount)

	updated, err := s.Update(ctx, "pg-1", func(c *Case) error {
		c.Directors[0].PanData = &PanData{PANNumber: "BQJPK6347Q"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "BQJPK6347Q", updated.Directors[0].PanData.PANNumber)

	items, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, s.Delete(ctx, "pg-1"))
	_, err = s.Get(ctx, "pg-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreSerializesConcurrentUpdates(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewCase("pg-race", "Race", time.Now())))

	var wg sync.WaitGroup
	for director := 0; director < DirectorCount; director++ {
		for _, docType := range []DocumentType{DocumentPAN, DocumentAadhaar} {
			wg.Add(1)
			go func(director int, docType DocumentType) {
				defer wg.Done()
				_, err := s.Update(ctx, "pg-race", func(c *Case) error {
					c.Directors[director].Documents = append(c.Directors[director].Documents, DocumentSlot{
						ID: string(docType), Type: docType, Status: SlotDone,
					})
					return nil
				})
				assert.NoError(t, err)
			}(director, docType)
		}
	}
	wg.Wait()

	got, err := s.Get(ctx, "pg-race")
	require.NoError(t, err)
	for _, d := range got.Directors {
		assert.Len(t, d.Documents, 2)
	}
}
