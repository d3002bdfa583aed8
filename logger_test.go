package largedata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LogLargeData(t *testing.T) {
	logger, logs := newBufferLogger()
	id := Identity{Keyspace: "ks", Table: "tbl", TableFile: "sst-1"}

	logger.LogLargeData(context.Background(), "collection", id, "pk ck tags", 4096)

	out := logs.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"msg":"Writing large collection"`)
	assert.Contains(t, out, `"keyspace":"ks"`)
	assert.Contains(t, out, `"table":"tbl"`)
	assert.Contains(t, out, `"key":"pk ck tags"`)
	assert.Contains(t, out, `"size":4096`)
	assert.Contains(t, out, `"sstable":"sst-1"`)
}

func TestLogger_LogBookkeepingFailure(t *testing.T) {
	logger, logs := newBufferLogger()
	id := Identity{Keyspace: "ks", Table: "tbl", TableFile: "sst-1"}

	logger.LogBookkeepingFailure(context.Background(), "delete", CategoryRow, id, errors.New("timeout"))

	out := logs.String()
	assert.Contains(t, out, `"op":"delete"`)
	assert.Contains(t, out, `"tracking_table":"system.large_rows"`)
	assert.Contains(t, out, `"error":"timeout"`)
}

func TestLogger_WithIdentity(t *testing.T) {
	logger, logs := newBufferLogger()

	logger.WithIdentity(Identity{Keyspace: "ks", Table: "tbl", TableFile: "sst-2"}).Info("hello")

	out := logs.String()
	assert.Contains(t, out, `"sstable":"sst-2"`)
	assert.Contains(t, out, `"logger":"large_data"`)
}

func TestLogger_Lifecycle(t *testing.T) {
	logger, logs := newBufferLogger()

	logger.LogLifecycle(context.Background(), "stopped", nil)
	logger.LogLifecycle(context.Background(), "stopped", errors.New("deadline"))

	assert.Equal(t, 1, logs.count("large data handler stopped"))
	assert.Equal(t, 1, logs.count("large data handler stopped failed"))
}

func TestNoopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopLogger().LogLargeData(context.Background(), "row", Identity{}, "pk", 1)
	})
}
