// Package codec encodes tracking rows for the bbolt and DynamoDB stores and
// the snapshots written by package report.
//
// The codec name is part of the stored format. A bolt database records it in
// its meta bucket and a snapshot in its header; opening either with another
// codec fails with ErrMismatch instead of misreading rows.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknown is returned for a recorded codec name with no built-in codec.
	ErrUnknown = errors.New("unknown codec")

	// ErrMismatch is returned when data was written with a different codec.
	ErrMismatch = errors.New("codec mismatch")
)

// Codec encodes and decodes rows. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var builtin = []Codec{GoJSON{}, JSON{}}

// Names returns the names of the built-in codecs.
func Names() []string {
	names := make([]string, len(builtin))
	for i, c := range builtin {
		names[i] = c.Name()
	}
	return names
}

// ByName returns a built-in codec by its recorded name.
func ByName(name string) (Codec, bool) {
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Lookup is ByName with an ErrUnknown error.
func Lookup(name string) (Codec, error) {
	c, ok := ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return c, nil
}

// Check reports ErrMismatch when recorded is not the name of c.
func Check(c Codec, recorded string) error {
	if c.Name() != recorded {
		return fmt.Errorf("%w: data uses %q, configured %q", ErrMismatch, recorded, c.Name())
	}
	return nil
}
