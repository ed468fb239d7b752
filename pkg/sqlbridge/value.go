package sqlbridge

import (
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// ValueType is the engine-reported type of an argument value.
type ValueType int

// value types match the engine's fundamental datatypes
const (
	TypeInteger ValueType = sqlite3.SQLITE_INTEGER
	TypeFloat   ValueType = sqlite3.SQLITE_FLOAT
	TypeText    ValueType = sqlite3.SQLITE_TEXT
	TypeBlob    ValueType = sqlite3.SQLITE_BLOB
	TypeNull    ValueType = sqlite3.SQLITE_NULL
)

// Value is a single argument handle passed to a registered function.
// Values are owned by the engine and valid only for the duration of the call;
// a callback must not retain them past its return.
type Value struct {
	tls *libc.TLS
	ptr uintptr
}

// Type reports the fundamental datatype of the value.
func (v Value) Type() ValueType {
	return ValueType(sqlite3.Xsqlite3_value_type(v.tls, v.ptr))
}

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.Type() == TypeNull }

// Int64 returns the value coerced to a 64-bit integer.
func (v Value) Int64() int64 {
	return sqlite3.Xsqlite3_value_int64(v.tls, v.ptr)
}

// Float returns the value coerced to a float64.
func (v Value) Float() float64 {
	return sqlite3.Xsqlite3_value_double(v.tls, v.ptr)
}

// Text returns the value coerced to a string. The engine's buffer is copied,
// the result is safe to retain.
func (v Value) Text() string {
	p := sqlite3.Xsqlite3_value_text(v.tls, v.ptr)
	n := sqlite3.Xsqlite3_value_bytes(v.tls, v.ptr)
	if p == 0 || n == 0 {
		return ""
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return string(b)
}

// Blob returns the value coerced to a byte slice, copied out of the engine.
func (v Value) Blob() []byte {
	p := sqlite3.Xsqlite3_value_blob(v.tls, v.ptr)
	n := sqlite3.Xsqlite3_value_bytes(v.tls, v.ptr)
	if p == 0 || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}
