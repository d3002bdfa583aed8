package largedata

import (
	"errors"
	"fmt"

	"github.com/hupe1980/largedata/query"
)

var (
	// ErrNotRunning is the panic value when an operation is called on a
	// handler that has not been started or has been stopped.
	ErrNotRunning = errors.New("large data handler is not running")

	// ErrStopped is returned when an operation loses the race with Stop, and
	// is the panic value when a stopped handler is started again.
	ErrStopped = errors.New("large data handler stopped")

	// ErrInvalidConfig is returned for invalid handler settings.
	ErrInvalidConfig = errors.New("invalid large data config")
)

// RecordError reports a failed tracking-table write or delete.
//
// The underlying executor error can be accessed via errors.Unwrap.
type RecordError struct {
	Op       query.Kind
	Table    string
	Identity Identity
	Err      error
}

func (e *RecordError) Error() string {
	if e.Op == query.Delete {
		return fmt.Sprintf("failed to drop entries from %s: ks = %s, table = %s, sst = %s: %v",
			e.Table, e.Identity.Keyspace, e.Identity.Table, e.Identity.TableFile, e.Err)
	}
	return fmt.Sprintf("failed to add a record to %s: ks = %s, table = %s, sst = %s: %v",
		e.Table, e.Identity.Keyspace, e.Identity.Table, e.Identity.TableFile, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
