package largedata

import (
	"fmt"

	"github.com/hupe1980/largedata/systable"
)

// Category is the granularity of a large-data occurrence.
type Category uint8

const (
	// CategoryPartition tracks large partitions (by size or row count).
	CategoryPartition Category = iota
	// CategoryRow tracks large rows.
	CategoryRow
	// CategoryCell tracks large cells.
	CategoryCell
)

// Categories lists every category in tracking-table order.
var Categories = []Category{CategoryPartition, CategoryRow, CategoryCell}

func (c Category) String() string {
	switch c {
	case CategoryPartition:
		return "partition"
	case CategoryRow:
		return "row"
	case CategoryCell:
		return "cell"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// TableName returns the tracking table of the category.
func (c Category) TableName() string {
	switch c {
	case CategoryPartition:
		return systable.LargePartitions
	case CategoryRow:
		return systable.LargeRows
	default:
		return systable.LargeCells
	}
}

// SizeColumn returns the size column of the category's tracking table.
func (c Category) SizeColumn() string {
	switch c {
	case CategoryPartition:
		return systable.ColumnPartitionSize
	case CategoryRow:
		return systable.ColumnRowSize
	default:
		return systable.ColumnCellSize
	}
}

// StatKind names a large-data statistic kept by a table file.
type StatKind uint8

const (
	StatPartitionSize StatKind = iota
	StatRowSize
	StatCellSize
	StatRowsInPartition
)

// LargeDataStat is the per-kind summary a table file keeps about itself.
type LargeDataStat struct {
	// Max is the largest value observed.
	Max uint64
	// Threshold is the threshold in effect when the file was written.
	Threshold uint64
	// AboveThreshold counts occurrences above Threshold.
	AboveThreshold uint64
}

// TableFile is the on-disk table file as seen by large-data tracking.
type TableFile interface {
	// Keyspace returns the keyspace of the table the file belongs to.
	Keyspace() string
	// Table returns the name of the table the file belongs to.
	Table() string
	// Filename returns the file's name, which scopes its tracking rows.
	Filename() string
	// LargeDataStat returns the file's statistic of the given kind, if recorded.
	LargeDataStat(kind StatKind) (LargeDataStat, bool)
}

// Identity scopes the tracking rows of one table file.
type Identity struct {
	Keyspace  string
	Table     string
	TableFile string
}

// IdentityOf returns the identity of a table file.
func IdentityOf(sst TableFile) Identity {
	return Identity{
		Keyspace:  sst.Keyspace(),
		Table:     sst.Table(),
		TableFile: sst.Filename(),
	}
}

func (id Identity) String() string {
	return id.Keyspace + "/" + id.Table + "@" + id.TableFile
}

// ColumnKind is the declared kind of a column.
type ColumnKind uint8

const (
	// ColumnAtomic columns hold a single cell.
	ColumnAtomic ColumnKind = iota
	// ColumnCollection columns hold a multi-cell collection.
	ColumnCollection
)

// Column identifies the column of a large cell.
type Column struct {
	Name string
	Kind ColumnKind
}

// IsAtomic reports whether the column holds a single cell.
func (c Column) IsAtomic() bool { return c.Kind == ColumnAtomic }

// flaggedCategories returns the categories for which sst recorded
// occurrences above threshold.
func flaggedCategories(sst TableFile) []Category {
	above := func(kind StatKind) bool {
		s, ok := sst.LargeDataStat(kind)
		return ok && s.AboveThreshold > 0
	}

	var cats []Category
	if above(StatPartitionSize) || above(StatRowsInPartition) {
		cats = append(cats, CategoryPartition)
	}
	if above(StatRowSize) {
		cats = append(cats, CategoryRow)
	}
	if above(StatCellSize) {
		cats = append(cats, CategoryCell)
	}
	return cats
}
