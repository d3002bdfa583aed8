package query

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the statement variant.
type Kind uint8

const (
	// Insert upserts one row, optionally with a TTL.
	Insert Kind = iota
	// Delete removes every row matching all fields.
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Null is the value bound for an absent text column.
var Null any = nil

// Field is one named, bound value.
type Field struct {
	Name  string
	Value any
}

// F is shorthand for constructing a Field.
func F(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Statement is a parameterized write or delete against one table.
//
// For Insert, Fields are the columns being written. For Delete, Fields are
// the equality restrictions of the WHERE clause.
type Statement struct {
	Kind     Kind
	Keyspace string
	Table    string
	Fields   []Field
	TTL      time.Duration
}

// QualifiedTable returns "keyspace.table".
func (s Statement) QualifiedTable() string {
	if s.Keyspace == "" {
		return s.Table
	}
	return s.Keyspace + "." + s.Table
}

// Args returns the bound values in placeholder order.
func (s Statement) Args() []any {
	args := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		args[i] = f.Value
	}
	return args
}

// Value returns the value bound to the named field.
func (s Statement) Value(name string) (any, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// CQL renders the statement text with one "?" placeholder per field.
func (s Statement) CQL() string {
	var b strings.Builder
	switch s.Kind {
	case Insert:
		b.WriteString("INSERT INTO ")
		b.WriteString(s.QualifiedTable())
		b.WriteString(" (")
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
		}
		b.WriteString(") VALUES (")
		for i := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('?')
		}
		b.WriteByte(')')
		if s.TTL > 0 {
			fmt.Fprintf(&b, " USING TTL %d", int64(s.TTL/time.Second))
		}
	case Delete:
		b.WriteString("DELETE FROM ")
		b.WriteString(s.QualifiedTable())
		for i, f := range s.Fields {
			if i == 0 {
				b.WriteString(" WHERE ")
			} else {
				b.WriteString(" AND ")
			}
			b.WriteString(f.Name)
			b.WriteString(" = ?")
		}
	}
	return b.String()
}

func (s Statement) String() string { return s.CQL() }
