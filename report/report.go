package report

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hupe1980/largedata/blobstore"
	"github.com/hupe1980/largedata/codec"
	"github.com/hupe1980/largedata/internal/hash"
	"github.com/hupe1980/largedata/systable"
	"golang.org/x/sync/errgroup"
)

// Extension is the file extension of snapshot blobs.
const Extension = ".snap"

const (
	formatVersion = 1
	checksumSize  = 4
)

var magic = []byte("LDSN")

var (
	// ErrBadMagic is returned when a blob is not a snapshot.
	ErrBadMagic = errors.New("not a large data snapshot")

	// ErrUnsupportedVersion is returned for snapshots written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrUnknownCodec is returned when a snapshot names a codec that is not built in.
	ErrUnknownCodec = errors.New("unknown snapshot codec")

	// ErrChecksumMismatch is returned when a snapshot fails its CRC32C check.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// Snapshot is the content of one tracking table at export time.
type Snapshot struct {
	Table     string          `json:"table"`
	CreatedAt time.Time       `json:"created_at"`
	Filter    systable.Filter `json:"filter"`
	Rows      []systable.Row  `json:"rows"`
}

// Options configures Export.
type Options struct {
	// Prefix is prepended to every blob name.
	Prefix string

	// Tables limits the export. If empty, all tracking tables are exported.
	Tables []string

	// Filter selects the rows to export.
	Filter systable.Filter

	// Codec encodes the snapshot. If nil, codec.Default.
	Codec codec.Codec

	// Compression is applied to the encoded snapshot.
	Compression Compression

	// BlockSize is the compression block size. If 0, 256KB.
	BlockSize int

	// Now stamps CreatedAt. If nil, time.Now.
	Now func() time.Time
}

// BlobName returns the blob a table's snapshot is written to.
func BlobName(prefix, table string) string {
	return path.Join(prefix, table+Extension)
}

// Export writes one snapshot per tracking table to dst, concurrently, and
// returns the blob names in table order.
func Export(ctx context.Context, src systable.Selecter, dst blobstore.Store, opts Options) ([]string, error) {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = systable.Tables()
	}
	for _, table := range tables {
		if _, ok := systable.Lookup(table); !ok {
			return nil, fmt.Errorf("%w: %s", systable.ErrUnknownTable, table)
		}
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	createdAt := now().UTC()

	names := make([]string, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		g.Go(func() error {
			rows, err := src.Select(gctx, table, opts.Filter)
			if err != nil {
				return fmt.Errorf("select %s: %w", table, err)
			}
			data, err := Encode(&Snapshot{
				Table:     table,
				CreatedAt: createdAt,
				Filter:    opts.Filter,
				Rows:      rows,
			}, opts.Codec, opts.Compression, opts.BlockSize)
			if err != nil {
				return fmt.Errorf("encode %s: %w", table, err)
			}
			name := BlobName(opts.Prefix, table)
			if err := dst.Put(gctx, name, data); err != nil {
				return fmt.Errorf("put %s: %w", name, err)
			}
			names[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

// Load reads one snapshot blob.
func Load(ctx context.Context, src blobstore.Store, name string) (*Snapshot, error) {
	data, err := src.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return snap, nil
}

// LoadAll reads every snapshot blob under prefix, in name order.
func LoadAll(ctx context.Context, src blobstore.Store, prefix string) ([]*Snapshot, error) {
	names, err := src.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var snaps []*Snapshot
	for _, name := range names {
		if !strings.HasSuffix(name, Extension) {
			continue
		}
		snap, err := Load(ctx, src, name)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Encode serializes a snapshot.
//
// Format: magic "LDSN", version, compression, codec name length, codec name,
// the encoded snapshot as compressed blocks, then a little-endian CRC32C of
// everything before it.
func Encode(snap *Snapshot, c codec.Codec, comp Compression, blockSize int) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("codec name too long: %q", name)
	}
	payload, err := c.Marshal(snap)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+3+len(name)+len(payload)/2)
	out = append(out, magic...)
	out = append(out, formatVersion, byte(comp), byte(len(name)))
	out = append(out, name...)
	out, err = compressBlocks(out, payload, comp, blockSize)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32(out, hash.CRC32C(out)), nil
}

// Decode parses a blob written by Encode.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < len(magic)+3 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	if len(data) < len(magic)+3+checksumSize {
		return nil, fmt.Errorf("%w: truncated", ErrChecksumMismatch)
	}
	body := data[:len(data)-checksumSize]
	if binary.LittleEndian.Uint32(data[len(body):]) != hash.CRC32C(body) {
		return nil, ErrChecksumMismatch
	}
	data = body[len(magic):]
	comp := Compression(data[1])
	nameLen := int(data[2])
	data = data[3:]
	if len(data) < nameLen {
		return nil, fmt.Errorf("%w: truncated codec name", errCorruptBlock)
	}
	c, err := codec.Lookup(string(data[:nameLen]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownCodec, err)
	}

	payload, err := decompressBlocks(data[nameLen:], comp)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := c.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
