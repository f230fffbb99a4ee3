// Package cache provides a persistent, versioned cache of GerryDB objects
// backed by bbolt.
//
// Objects are cached as opaque encoded documents keyed by kind, namespace and
// path. Each kind follows one versioning policy: ETag-versioned objects keep
// only their newest version, timestamp-versioned objects keep every version
// by valid-from time, and unversioned objects keep every fetch by cache time.
package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// SchemaVersion is the on-disk layout version.
const SchemaVersion = "0"

var (
	// ErrInit reports a cache file that is unreadable or has the wrong layout.
	ErrInit = errors.New("cache: invalid cache")
	// ErrPolicy reports version information that does not match an object kind's policy.
	ErrPolicy = errors.New("cache: policy mismatch")
)

var (
	bucketMeta       = []byte("cache_meta")
	bucketObject     = []byte("object")
	bucketAlias      = []byte("object_alias")
	bucketCollection = []byte("collection")

	requiredBuckets = [][]byte{bucketMeta, bucketObject, bucketAlias, bucketCollection}

	keySchemaVersion = []byte("schema_version")
)

// Policy is a versioning policy.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyETag
	PolicyTimestamp
)

func (p Policy) String() string {
	switch p {
	case PolicyETag:
		return "ETag-versioned"
	case PolicyTimestamp:
		return "timestamp-versioned"
	default:
		return "not versioned"
	}
}

// Kind is a cached object type.
type Kind string

const (
	KindNamespace    Kind = "namespace"
	KindLocality     Kind = "locality"
	KindColumn       Kind = "column"
	KindColumnSet    Kind = "column_set"
	KindGeoLayer     Kind = "geo_layer"
	KindGeography    Kind = "geography"
	KindPlan         Kind = "plan"
	KindGraph        Kind = "graph"
	KindViewTemplate Kind = "view_template"
	KindView         Kind = "view"
)

// Policy returns the versioning policy of k.
func (k Kind) Policy() Policy {
	switch k {
	case KindNamespace, KindLocality, KindColumn, KindColumnSet, KindGeoLayer, KindViewTemplate:
		return PolicyETag
	case KindGeography:
		return PolicyTimestamp
	default:
		return PolicyNone
	}
}

// Aliased reports whether objects of kind k can be addressed by alias.
func (k Kind) Aliased() bool {
	return k == KindColumn || k == KindLocality
}

// Entry is a cached object version.
type Entry struct {
	Data      []byte
	CachedAt  time.Time
	ValidFrom time.Time
	ETag      string
}

// Collection is a cached snapshot of every object of a kind in a namespace.
type Collection struct {
	Members  map[string]Entry
	CachedAt time.Time
	ValidAt  time.Time
	ETag     string
}

// GetOptions select a version. At bounds valid-from for timestamp-versioned
// kinds; ETag pins the exact version of ETag-versioned kinds.
type GetOptions struct {
	At   time.Time
	ETag string
}

// InsertOptions carry the version of an inserted object and, for aliased
// ETag-versioned kinds, its full alias list.
type InsertOptions struct {
	ValidFrom time.Time
	ETag      string
	Aliases   []string
}

// CollectOptions carry the version of a collection snapshot.
type CollectOptions struct {
	ValidAt time.Time
	ETag    string
}

type stored struct {
	Data      []byte    `msgpack:"data"`
	CachedAt  time.Time `msgpack:"cached_at"`
	ValidFrom time.Time `msgpack:"valid_from,omitempty"`
	ETag      string    `msgpack:"etag,omitempty"`
}

type storedCollection struct {
	ETag     string    `msgpack:"etag"`
	CachedAt time.Time `msgpack:"cached_at"`
	ValidAt  time.Time `msgpack:"valid_at,omitempty"`
}

// Cache is a bbolt-backed object cache. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	db      *bbolt.DB
	path    string
	tempDir string
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for cache timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Open loads or initializes the cache file at path.
func Open(path string, opts ...Option) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, apierr.Cache(fmt.Errorf("%w: %w", ErrInit, err), "create cache directory")
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apierr.Cache(fmt.Errorf("%w: %w", ErrInit, err), "open cache db %s", path)
	}
	c := &Cache{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// OpenTemp creates a cache in a fresh temporary directory that is removed on Close.
func OpenTemp(opts ...Option) (*Cache, error) {
	dir, err := os.MkdirTemp("", "gerrydb-cache-")
	if err != nil {
		return nil, apierr.Cache(fmt.Errorf("%w: %w", ErrInit, err), "create temporary cache directory")
	}
	c, err := Open(filepath.Join(dir, "cache.db"), opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	c.tempDir = dir
	return c, nil
}

// Path returns the cache file location.
func (c *Cache) Path() string { return c.path }

// Close closes the database and removes temporary storage.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if c.tempDir != "" {
		if rmErr := os.RemoveAll(c.tempDir); err == nil && rmErr != nil {
			err = rmErr
		}
		c.tempDir = ""
	}
	return err
}

func (c *Cache) view(fn func(*bbolt.Tx) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return apierr.Cache(ErrInit, "cache closed")
	}
	return c.db.View(fn)
}

func (c *Cache) update(fn func(*bbolt.Tx) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return apierr.Cache(ErrInit, "cache closed")
	}
	return c.db.Update(fn)
}

func (c *Cache) init() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		empty := true
		_ = tx.ForEach(func(_ []byte, _ *bbolt.Bucket) error {
			empty = false
			return nil
		})
		if empty {
			for _, name := range requiredBuckets {
				if _, err := tx.CreateBucket(name); err != nil {
					return apierr.Cache(err, "create bucket %s", name)
				}
			}
			return tx.Bucket(bucketMeta).Put(keySchemaVersion, []byte(SchemaVersion))
		}

		var missing []string
		for _, name := range requiredBuckets {
			if tx.Bucket(name) == nil {
				missing = append(missing, string(name))
			}
		}
		if len(missing) > 0 {
			return apierr.Cache(ErrInit, "missing buckets %v", missing)
		}
		version := tx.Bucket(bucketMeta).Get(keySchemaVersion)
		if version == nil {
			return apierr.Cache(ErrInit, "no schema version in cache metadata")
		}
		if string(version) != SchemaVersion {
			return apierr.Cache(ErrInit, "expected schema version %s, got %s", SchemaVersion, version)
		}
		return nil
	})
}

// Get returns the selected version of an object, or nil when nothing
// matching is cached. For aliased kinds path may be an alias.
func (c *Cache) Get(kind Kind, namespace, path string, opts GetOptions) (*Entry, error) {
	var out *Entry
	err := c.view(func(tx *bbolt.Tx) error {
		if kind.Aliased() {
			if canonical := tx.Bucket(bucketAlias).Get(aliasKey(kind, namespace, path)); canonical != nil {
				path = string(canonical)
			}
		}
		policy := kind.Policy()
		cur := tx.Bucket(bucketObject).Cursor()
		prefix := objectPrefix(kind, namespace, path)
		var best *stored
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var s stored
			if err := msgpack.Unmarshal(v, &s); err != nil {
				return apierr.Cache(err, "decode %s %s/%s", kind, namespace, path)
			}
			switch policy {
			case PolicyETag:
				if opts.ETag != "" && s.ETag != opts.ETag {
					continue
				}
			case PolicyTimestamp:
				if !opts.At.IsZero() && s.ValidFrom.After(opts.At) {
					continue
				}
			}
			// Keys sort by version, so the last match is the newest.
			sc := s
			best = &sc
		}
		if best != nil {
			out = &Entry{Data: best.Data, CachedAt: best.CachedAt, ValidFrom: best.ValidFrom, ETag: best.ETag}
		}
		return nil
	})
	return out, err
}

// Insert caches one version of an object.
func (c *Cache) Insert(kind Kind, namespace, path string, data []byte, opts InsertOptions) error {
	policy := kind.Policy()
	if err := checkWritePolicy(kind, policy, opts.ValidFrom, opts.ETag); err != nil {
		return err
	}
	now := c.now().UTC()
	var version time.Time
	switch policy {
	case PolicyTimestamp:
		version = opts.ValidFrom
	case PolicyNone:
		version = now
	}
	value, err := msgpack.Marshal(stored{Data: data, CachedAt: now, ValidFrom: opts.ValidFrom, ETag: opts.ETag})
	if err != nil {
		return apierr.Cache(err, "encode %s %s/%s", kind, namespace, path)
	}

	return c.update(func(tx *bbolt.Tx) error {
		objects := tx.Bucket(bucketObject)
		if policy == PolicyETag {
			if err := deletePrefix(objects, objectPrefix(kind, namespace, path)); err != nil {
				return err
			}
		}
		if err := objects.Put(objectKey(kind, namespace, path, version), value); err != nil {
			return apierr.Cache(err, "store %s %s/%s", kind, namespace, path)
		}
		if kind.Aliased() && policy == PolicyETag && opts.Aliases != nil {
			return replaceAliases(tx.Bucket(bucketAlias), kind, namespace, path, opts.Aliases)
		}
		return nil
	})
}

// Collect records that the cache holds a complete snapshot of a collection.
func (c *Cache) Collect(kind Kind, namespace string, opts CollectOptions) error {
	policy := kind.Policy()
	switch {
	case policy == PolicyETag && (opts.ETag == "" || !opts.ValidAt.IsZero()):
		return policyError(kind, policy, "collections need a collection ETag only")
	case policy == PolicyTimestamp && (opts.ETag == "" || opts.ValidAt.IsZero()):
		return policyError(kind, policy, "collections need a collection ETag and a snapshot timestamp")
	case policy == PolicyNone:
		return policyError(kind, policy, "collection-level caching is not supported")
	}
	value, err := msgpack.Marshal(storedCollection{ETag: opts.ETag, CachedAt: c.now().UTC(), ValidAt: opts.ValidAt})
	if err != nil {
		return apierr.Cache(err, "encode %s collection", kind)
	}
	return c.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCollection)
		prefix := collectionPrefix(kind, namespace)
		if policy == PolicyETag {
			if err := deletePrefix(b, prefix); err != nil {
				return err
			}
		}
		return b.Put(append(prefix, versionBytes(opts.ValidAt)...), value)
	})
}

// All returns the newest cached snapshot of a collection, or nil when none
// is available. For timestamp-versioned kinds a non-zero at selects a
// snapshot taken exactly at that time or bracketed by two snapshots with
// the same ETag.
func (c *Cache) All(kind Kind, namespace string, at time.Time) (*Collection, error) {
	policy := kind.Policy()
	if policy == PolicyETag && !at.IsZero() {
		return nil, policyError(kind, policy, "collections cannot be selected by time")
	}
	if policy == PolicyNone {
		return nil, policyError(kind, policy, "collection-level caching is not supported")
	}

	var out *Collection
	err := c.view(func(tx *bbolt.Tx) error {
		meta, err := selectSnapshot(tx.Bucket(bucketCollection), kind, namespace, at)
		if err != nil || meta == nil {
			return err
		}
		members := make(map[string]Entry)
		cur := tx.Bucket(bucketObject).Cursor()
		prefix := collectionPrefix(kind, namespace)
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			path, ok := pathFromKey(k[len(prefix):])
			if !ok {
				continue
			}
			var s stored
			if err := msgpack.Unmarshal(v, &s); err != nil {
				return apierr.Cache(err, "decode %s %s/%s", kind, namespace, path)
			}
			if policy == PolicyTimestamp && s.ValidFrom.After(meta.ValidAt) {
				continue
			}
			members[path] = Entry{Data: s.Data, CachedAt: s.CachedAt, ValidFrom: s.ValidFrom, ETag: s.ETag}
		}
		out = &Collection{Members: members, CachedAt: meta.CachedAt, ValidAt: meta.ValidAt, ETag: meta.ETag}
		return nil
	})
	return out, err
}

func selectSnapshot(b *bbolt.Bucket, kind Kind, namespace string, at time.Time) (*storedCollection, error) {
	prefix := collectionPrefix(kind, namespace)
	var before, after *storedCollection
	cur := b.Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		var s storedCollection
		if err := msgpack.Unmarshal(v, &s); err != nil {
			return nil, apierr.Cache(err, "decode %s collection", kind)
		}
		sc := s
		switch {
		case at.IsZero() || !s.ValidAt.After(at):
			before = &sc
		case after == nil:
			after = &sc
		}
	}
	if at.IsZero() || before == nil {
		return before, nil
	}
	if before.ValidAt.Equal(at) {
		return before, nil
	}
	if after != nil && after.ETag == before.ETag {
		return before, nil
	}
	return nil, nil
}

func checkWritePolicy(kind Kind, policy Policy, validFrom time.Time, etag string) error {
	switch policy {
	case PolicyETag:
		if etag == "" || !validFrom.IsZero() {
			return policyError(kind, policy, "insert with an ETag only")
		}
	case PolicyTimestamp:
		if etag != "" || validFrom.IsZero() {
			return policyError(kind, policy, "insert with a valid-from timestamp only")
		}
	default:
		if etag != "" || !validFrom.IsZero() {
			return policyError(kind, policy, "insert without version information")
		}
	}
	return nil
}

func policyError(kind Kind, policy Policy, msg string) error {
	return apierr.Cache(ErrPolicy, "object type %q is %s: %s", kind, policy, msg)
}

func replaceAliases(b *bbolt.Bucket, kind Kind, namespace, path string, aliases []string) error {
	prefix := collectionPrefix(kind, namespace)
	var stale [][]byte
	cur := b.Cursor()
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		if string(v) == path {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return apierr.Cache(err, "delete alias")
		}
	}
	for _, alias := range aliases {
		if err := b.Put(aliasKey(kind, namespace, alias), []byte(path)); err != nil {
			return apierr.Cache(err, "store alias %s", alias)
		}
	}
	return nil
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	cur := b.Cursor()
	for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return apierr.Cache(err, "delete %q", k)
		}
	}
	return nil
}

const sep = 0x00

// collectionPrefix is kind NUL namespace NUL.
func collectionPrefix(kind Kind, namespace string) []byte {
	key := make([]byte, 0, len(kind)+len(namespace)+2)
	key = append(key, kind...)
	key = append(key, sep)
	key = append(key, namespace...)
	return append(key, sep)
}

// objectPrefix is kind NUL namespace NUL path NUL.
func objectPrefix(kind Kind, namespace, path string) []byte {
	key := collectionPrefix(kind, namespace)
	key = append(key, path...)
	return append(key, sep)
}

func objectKey(kind Kind, namespace, path string, version time.Time) []byte {
	return append(objectPrefix(kind, namespace, path), versionBytes(version)...)
}

func aliasKey(kind Kind, namespace, alias string) []byte {
	return append(collectionPrefix(kind, namespace), alias...)
}

func pathFromKey(rest []byte) (string, bool) {
	i := bytes.IndexByte(rest, sep)
	if i < 0 {
		return "", false
	}
	return string(rest[:i]), true
}

// versionBytes encodes t so that byte order matches time order; the zero
// time encodes as all zeros.
func versionBytes(t time.Time) []byte {
	var b [8]byte
	if !t.IsZero() {
		binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano())^(1<<63))
	}
	return b[:]
}
