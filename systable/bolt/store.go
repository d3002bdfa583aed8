// Package bolt stores the tracking tables in a local bbolt database.
//
// Each tracking table is a bucket keyed by systable.Row.Key, so a table
// file's rows are contiguous and deleting them is a prefix range delete.
// Values are rows encoded with the store's codec, whose name is recorded in
// the database on creation.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hupe1980/largedata/codec"
	"github.com/hupe1980/largedata/query"
	"github.com/hupe1980/largedata/systable"
)

const (
	metaBucketName = ".meta"
	codecKeyName   = "codec"
)

var (
	metaBucketNameBytes = []byte(metaBucketName)
	codecKeyNameBytes   = []byte(codecKeyName)
)

// ErrCodecMismatch is returned when a database was created with another codec.
var ErrCodecMismatch = codec.ErrMismatch

// Store is a durable systable.Store.
type Store struct {
	db    *bbolt.DB
	codec codec.Codec
	now   func() time.Time
}

var _ systable.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the row codec. Defaults to codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithClock sets the clock used for TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates the database at path.
func Open(path string, optFns ...Option) (*Store, error) {
	s := &Store{
		codec: codec.Default,
		now:   time.Now,
	}
	for _, fn := range optFns {
		fn(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open tracking database %s: %w", path, err)
	}
	s.db = db

	if err := db.Update(s.init); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(tx *bbolt.Tx) error {
	meta, err := tx.CreateBucketIfNotExists(metaBucketNameBytes)
	if err != nil {
		return err
	}
	name := []byte(s.codec.Name())
	if stored := meta.Get(codecKeyNameBytes); stored == nil {
		if err := meta.Put(codecKeyNameBytes, name); err != nil {
			return err
		}
	} else if err := codec.Check(s.codec, string(stored)); err != nil {
		return fmt.Errorf("tracking database: %w", err)
	}

	for _, table := range systable.Tables() {
		if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
			return fmt.Errorf("error creating bucket %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execute implements query.Executor.
func (s *Store) Execute(ctx context.Context, stmt query.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch stmt.Kind {
	case query.Insert:
		row, err := systable.FromStatement(stmt, s.now())
		if err != nil {
			return err
		}
		value, err := s.codec.Marshal(row)
		if err != nil {
			return err
		}
		return s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket([]byte(row.Table)).Put(row.Key(), value)
		})
	case query.Delete:
		table, f, err := systable.FilterFromStatement(stmt)
		if err != nil {
			return err
		}
		return s.db.Update(func(tx *bbolt.Tx) error {
			_, err := s.deleteWhere(tx.Bucket([]byte(table)), f.Prefix(), func(row systable.Row) bool {
				return f.Match(row)
			})
			return err
		})
	default:
		return systable.ErrUnsupportedStatement
	}
}

// Select implements systable.Selecter.
func (s *Store) Select(ctx context.Context, table string, f systable.Filter) ([]systable.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := systable.Lookup(table); !ok {
		return nil, systable.ErrUnknownTable
	}

	now := s.now()
	var rows []systable.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := f.Prefix()
		c := tx.Bucket([]byte(table)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var row systable.Row
			if err := s.codec.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode %s row: %w", table, err)
			}
			if f.Match(row) && !row.Expired(now) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Sweep removes expired rows and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, table := range systable.Tables() {
			n, err := s.deleteWhere(tx.Bucket([]byte(table)), nil, func(row systable.Row) bool {
				return row.Expired(now)
			})
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// deleteWhere removes the rows under prefix selected by match. Keys are
// collected first; deleting through a live cursor skips entries.
func (s *Store) deleteWhere(b *bbolt.Bucket, prefix []byte, match func(systable.Row) bool) (int, error) {
	var keys [][]byte
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var row systable.Row
		if err := s.codec.Unmarshal(v, &row); err != nil {
			return 0, err
		}
		if match(row) {
			keys = append(keys, bytes.Clone(k))
		}
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
