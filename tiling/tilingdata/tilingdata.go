// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tilingdata serializes tiling parameters into the fixed-layout blob consumed by the kernels.
//
// The layout is not self-describing: the kernel expects exactly the field count, order and widths emitted
// by the operator's tiling function. Each operator declares its layout once as a Fields list, and the
// values are appended to a Buffer in that order, little-endian, with no padding.
package tilingdata

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Buffer is an append-only byte buffer of int32/int64 scalars.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// AppendInt32 appends a 4 bytes little-endian scalar.
func (b *Buffer) AppendInt32(v int32) *Buffer {
	b.data = binary.LittleEndian.AppendUint32(b.data, uint32(v))
	return b
}

// AppendInt64 appends an 8 bytes little-endian scalar.
func (b *Buffer) AppendInt64(v int64) *Buffer {
	b.data = binary.LittleEndian.AppendUint64(b.data, uint64(v))
	return b
}

// Bytes returns the serialized data. The returned slice is owned by the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes serialized.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Kind is the width of a field.
type Kind int

const (
	Int32 Kind = iota
	Int64
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Size returns the number of bytes of the field kind.
func (k Kind) Size() int {
	if k == Int32 {
		return 4
	}
	return 8
}

// Field is one named scalar of a layout.
type Field struct {
	Name  string
	Kind  Kind
	Value int64
}

// Fields is an ordered list of named typed scalars: the tiling parameters of one operator, in the
// kernel's layout order.
type Fields struct {
	fields []Field
}

// CheckInt32 returns an error if value doesn't fit the int32 field name.
func CheckInt32(name string, value int64) error {
	if value != int64(int32(value)) {
		return errors.Errorf("tiling field %q value %d overflows int32", name, value)
	}
	return nil
}

// Int32 appends an int32 field. It panics if the value doesn't fit 32 bits: callers with values derived
// from runtime shapes validate them first with CheckInt32.
func (f *Fields) Int32(name string, value int64) *Fields {
	if err := CheckInt32(name, value); err != nil {
		exceptions.Panicf("%v", err)
	}
	f.fields = append(f.fields, Field{Name: name, Kind: Int32, Value: value})
	return f
}

// Int64 appends an int64 field.
func (f *Fields) Int64(name string, value int64) *Fields {
	f.fields = append(f.fields, Field{Name: name, Kind: Int64, Value: value})
	return f
}

// Int64s appends one int64 field per value, named prefix_0, prefix_1, ...
func (f *Fields) Int64s(prefix string, values []int64) *Fields {
	for ii, v := range values {
		f.Int64(fmt.Sprintf("%s_%d", prefix, ii), v)
	}
	return f
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.fields)
}

// Names returns the field names, in order.
func (f *Fields) Names() []string {
	names := make([]string, len(f.fields))
	for ii, field := range f.fields {
		names[ii] = field.Name
	}
	return names
}

// Get returns the value of the named field, and whether it was found.
func (f *Fields) Get(name string) (int64, bool) {
	for _, field := range f.fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return 0, false
}

// Kinds returns the kinds of the fields, in order.
func (f *Fields) Kinds() []Kind {
	kinds := make([]Kind, len(f.fields))
	for ii, field := range f.fields {
		kinds[ii] = field.Kind
	}
	return kinds
}

// All returns the fields, in order. The returned slice must not be modified.
func (f *Fields) All() []Field {
	return f.fields
}

// WriteTo appends all fields to the buffer, in order.
func (f *Fields) WriteTo(b *Buffer) {
	for _, field := range f.fields {
		switch field.Kind {
		case Int32:
			b.AppendInt32(int32(field.Value))
		default:
			b.AppendInt64(field.Value)
		}
	}
}

// Bytes serializes the fields to a new buffer and returns its bytes.
func (f *Fields) Bytes() []byte {
	b := NewBuffer()
	f.WriteTo(b)
	return b.Bytes()
}

// String returns a "name=value" listing of the fields, for debugging.
func (f *Fields) String() string {
	parts := make([]string, len(f.fields))
	for ii, field := range f.fields {
		parts[ii] = fmt.Sprintf("%s=%d", field.Name, field.Value)
	}
	return strings.Join(parts, ", ")
}

// Decode parses data according to a list of field kinds, the inverse of WriteTo. It is used by tests and by
// the command line tool to display tiling data.
func Decode(data []byte, kinds []Kind) ([]int64, error) {
	values := make([]int64, 0, len(kinds))
	pos := 0
	for ii, kind := range kinds {
		if pos+kind.Size() > len(data) {
			return nil, errors.Errorf("tiling data has %d bytes, too short for field #%d (%s)", len(data), ii, kind)
		}
		switch kind {
		case Int32:
			values = append(values, int64(int32(binary.LittleEndian.Uint32(data[pos:]))))
		default:
			values = append(values, int64(binary.LittleEndian.Uint64(data[pos:])))
		}
		pos += kind.Size()
	}
	if pos != len(data) {
		return nil, errors.Errorf("tiling data has %d bytes, but the fields take %d", len(data), pos)
	}
	return values, nil
}
