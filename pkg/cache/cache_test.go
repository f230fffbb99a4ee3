package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time {
	f.t = f.t.Add(time.Second)
	return f.t
}

func openTest(t *testing.T) *Cache {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c, err := Open(filepath.Join(t.TempDir(), "default.db"), WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestETagInsertReplacesOlderVersion(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Insert(KindGeoLayer, "census", "blocks", []byte(`v1`), InsertOptions{ETag: "a"}))
	require.NoError(t, c.Insert(KindGeoLayer, "census", "blocks", []byte(`v2`), InsertOptions{ETag: "b"}))

	got, err := c.Get(KindGeoLayer, "census", "blocks", GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", string(got.Data))
	assert.Equal(t, "b", got.ETag)

	got, err = c.Get(KindGeoLayer, "census", "blocks", GetOptions{ETag: "a"})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.Get(KindGeoLayer, "census", "tracts", GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAliasesResolveToCanonicalPath(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Insert(KindColumn, "census", "total_pop", []byte(`col`),
		InsertOptions{ETag: "1", Aliases: []string{"totpop", "p0010001"}}))

	got, err := c.Get(KindColumn, "census", "p0010001", GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "col", string(got.Data))

	// A new alias list drops the old aliases.
	require.NoError(t, c.Insert(KindColumn, "census", "total_pop", []byte(`col2`),
		InsertOptions{ETag: "2", Aliases: []string{"pop"}}))
	got, err = c.Get(KindColumn, "census", "totpop", GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = c.Get(KindColumn, "census", "pop", GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "col2", string(got.Data))
}

func TestTimestampVersions(t *testing.T) {
	c := openTest(t)
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Insert(KindGeography, "census", "g1", []byte(`old`), InsertOptions{ValidFrom: t1}))
	require.NoError(t, c.Insert(KindGeography, "census", "g1", []byte(`new`), InsertOptions{ValidFrom: t2}))

	latest, err := c.Get(KindGeography, "census", "g1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new", string(latest.Data))

	then, err := c.Get(KindGeography, "census", "g1", GetOptions{At: t1.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "old", string(then.Data))
	assert.True(t, then.ValidFrom.Equal(t1))

	none, err := c.Get(KindGeography, "census", "g1", GetOptions{At: t1.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestWritePolicyIsEnforced(t *testing.T) {
	c := openTest(t)
	cases := []struct {
		kind Kind
		opts InsertOptions
	}{
		{KindNamespace, InsertOptions{}},
		{KindNamespace, InsertOptions{ETag: "a", ValidFrom: time.Now()}},
		{KindGeography, InsertOptions{ETag: "a"}},
		{KindPlan, InsertOptions{ETag: "a"}},
	}
	for _, tc := range cases {
		err := c.Insert(tc.kind, "ns", "p", []byte("x"), tc.opts)
		require.ErrorIs(t, err, ErrPolicy, tc.kind)
		require.ErrorIs(t, err, apierr.ErrCache)
	}
	require.NoError(t, c.Insert(KindPlan, "ns", "p", []byte("x"), InsertOptions{}))

	require.ErrorIs(t, c.Collect(KindPlan, "ns", CollectOptions{}), ErrPolicy)
	require.ErrorIs(t, c.Collect(KindGeography, "ns", CollectOptions{ETag: "a"}), ErrPolicy)
	_, err := c.All(KindNamespace, "ns", time.Now())
	require.ErrorIs(t, err, ErrPolicy)
}

func TestETagCollection(t *testing.T) {
	c := openTest(t)
	all, err := c.All(KindGeoLayer, "census", time.Time{})
	require.NoError(t, err)
	assert.Nil(t, all)

	require.NoError(t, c.Insert(KindGeoLayer, "census", "blocks", []byte(`b`), InsertOptions{ETag: "1"}))
	require.NoError(t, c.Insert(KindGeoLayer, "census", "tracts", []byte(`t`), InsertOptions{ETag: "2"}))
	require.NoError(t, c.Insert(KindGeoLayer, "other", "counties", []byte(`c`), InsertOptions{ETag: "3"}))
	require.NoError(t, c.Collect(KindGeoLayer, "census", CollectOptions{ETag: "coll"}))

	all, err = c.All(KindGeoLayer, "census", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, all)
	assert.Equal(t, "coll", all.ETag)
	assert.Len(t, all.Members, 2)
	assert.Equal(t, "t", string(all.Members["tracts"].Data))
}

func TestTimestampCollectionSnapshots(t *testing.T) {
	c := openTest(t)
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Insert(KindGeography, "census", "g1", []byte(`g1v1`), InsertOptions{ValidFrom: t1}))
	require.NoError(t, c.Insert(KindGeography, "census", "g1", []byte(`g1v2`), InsertOptions{ValidFrom: t3}))
	require.NoError(t, c.Insert(KindGeography, "census", "g2", []byte(`g2v1`), InsertOptions{ValidFrom: t1}))
	require.NoError(t, c.Collect(KindGeography, "census", CollectOptions{ETag: "x", ValidAt: t1}))
	require.NoError(t, c.Collect(KindGeography, "census", CollectOptions{ETag: "x", ValidAt: t2}))

	// Bracketed by two snapshots with the same ETag.
	mid := t1.Add(24 * time.Hour)
	all, err := c.All(KindGeography, "census", mid)
	require.NoError(t, err)
	require.NotNil(t, all)
	assert.Equal(t, "g1v1", string(all.Members["g1"].Data))

	// After the last snapshot there is no bracketing pair.
	all, err = c.All(KindGeography, "census", t3)
	require.NoError(t, err)
	assert.Nil(t, all)

	latest, err := c.All(KindGeography, "census", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.ValidAt.Equal(t2))
	assert.Equal(t, "g1v1", string(latest.Members["g1"].Data))
	assert.Len(t, latest.Members, 2)
}

func TestOpenRejectsWrongSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		for _, name := range requiredBuckets {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySchemaVersion, []byte("99"))
	}))
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrInit)
	require.ErrorIs(t, err, apierr.ErrCache)
}

func TestOpenTempRemovesFilesOnClose(t *testing.T) {
	c, err := OpenTemp()
	require.NoError(t, err)
	path := c.Path()
	assert.FileExists(t, path)
	require.NoError(t, c.Close())
	assert.NoFileExists(t, path)
}

func TestClosedCacheReportsError(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "default.db"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Get(KindNamespace, "", "census", GetOptions{})
	require.ErrorIs(t, err, apierr.ErrCache)
	require.ErrorIs(t, err, ErrInit)
	assert.Contains(t, err.Error(), "cache closed")

	err = c.Insert(KindNamespace, "", "census", []byte(`{}`), InsertOptions{ETag: "a"})
	require.ErrorIs(t, err, ErrInit)
	require.ErrorIs(t, c.Collect(KindNamespace, "", CollectOptions{ETag: "a"}), apierr.ErrCache)
	_, err = c.All(KindNamespace, "", time.Time{})
	require.ErrorIs(t, err, apierr.ErrCache)
}
