// Package sqlbridge exposes a host-side bridge into the embedded SQLite
// engine: it owns a raw connection handle and lets Go closures be registered
// as SQL functions, invoked by the engine per row during query execution.
//
// The bridge is built directly on modernc.org/sqlite/lib, the pure-Go
// transpilation of the SQLite C library, rather than on the database/sql
// driver. The driver's function registry is process-global while the contract
// here is connection-scoped: registrations are owned by the connection handle
// and die with it.
//
// A connection is exclusively owned by one execution context at a time.
// Registered callbacks run synchronously on the thread driving the query and
// no two calls on the same connection overlap. Callers wanting parallel query
// execution open one connection per thread.
package sqlbridge

import (
	"fmt"
	"sync"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

// connFunc tracks the engine-side resources of one live registration.
type connFunc struct {
	id    uintptr
	cname uintptr
}

// Conn is a single connection to the embedded engine. Not safe for
// concurrent use, see the package comment.
type Conn struct {
	db  uintptr // sqlite3*
	tls *libc.TLS

	mu     sync.Mutex // guards Close against registration and pinning
	funcs  map[funcKey]connFunc
	pinned []uintptr // OwnStatic buffers, released on Close
}

// Open opens or creates a database file. Use ":memory:" for a transient
// in-memory database. The caller must Close the returned connection.
func Open(path string) (*Conn, error) {
	c := &Conn{tls: libc.NewTLS(), funcs: map[funcKey]connFunc{}}

	p, err := c.malloc(int(ptrSize))
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	defer libc.Xfree(c.tls, p)

	s, err := libc.CString(path)
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	defer libc.Xfree(c.tls, s)

	flags := int32(sqlite3.SQLITE_OPEN_READWRITE | sqlite3.SQLITE_OPEN_CREATE |
		sqlite3.SQLITE_OPEN_FULLMUTEX | sqlite3.SQLITE_OPEN_URI)
	if rc := sqlite3.Xsqlite3_open_v2(c.tls, s, p, flags, 0); rc != sqlite3.SQLITE_OK {
		err := c.lastError(rc)
		c.tls.Close()
		return nil, fmt.Errorf("can't open database %q: %w", path, err)
	}
	c.db = *(*uintptr)(unsafe.Pointer(p))

	if rc := sqlite3.Xsqlite3_extended_result_codes(c.tls, c.db, 1); rc != sqlite3.SQLITE_OK {
		err := c.lastError(rc)
		_ = c.Close()
		return nil, fmt.Errorf("can't enable extended result codes: %w", err)
	}
	return c, nil
}

// Close releases the connection, all function registrations owned by it and
// all buffers pinned by OwnStatic results. The connection is unusable
// afterwards; Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == 0 {
		return nil
	}

	for _, f := range c.funcs {
		dropRegistration(f.id)
		libc.Xfree(c.tls, f.cname)
	}
	c.funcs = map[funcKey]connFunc{}

	for _, p := range c.pinned {
		libc.Xfree(c.tls, p)
	}
	c.pinned = nil

	var err error
	if rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db); rc != sqlite3.SQLITE_OK {
		err = fmt.Errorf("can't close database: %w", c.lastError(rc))
	}
	c.db = 0
	c.tls.Close()
	c.tls = nil
	return err
}

// pin records an allocation that must stay valid until the connection closes.
func (c *Conn) pin(p uintptr) {
	c.mu.Lock()
	c.pinned = append(c.pinned, p)
	c.mu.Unlock()
}

// Exec runs one or more SQL statements, discarding any rows they produce.
// Bind arguments apply to a single statement only.
func (c *Conn) Exec(query string, args ...any) error {
	if c.db == 0 {
		return ErrConnClosed
	}
	if len(args) > 0 {
		pstmt, allocs, err := c.prepareBound(query, args)
		if err != nil {
			return err
		}
		defer c.freeAll(allocs)
		defer sqlite3.Xsqlite3_finalize(c.tls, pstmt)
		return c.stepAll(pstmt)
	}

	zsql, err := libc.CString(query)
	if err != nil {
		return err
	}
	defer libc.Xfree(c.tls, zsql)

	for zsql != 0 {
		var pstmt uintptr
		pstmt, zsql, err = c.prepare(zsql)
		if err != nil {
			return err
		}
		if pstmt == 0 { // trailing whitespace or comment
			break
		}
		if err = c.stepAll(pstmt); err != nil {
			sqlite3.Xsqlite3_finalize(c.tls, pstmt)
			return err
		}
		if rc := sqlite3.Xsqlite3_finalize(c.tls, pstmt); rc != sqlite3.SQLITE_OK {
			return c.lastError(rc)
		}
	}
	return nil
}

// Query runs a single SQL statement and returns its result rows. The caller
// must Close the returned Rows before issuing further statements that mutate
// the schema.
func (c *Conn) Query(query string, args ...any) (*Rows, error) {
	if c.db == 0 {
		return nil, ErrConnClosed
	}
	pstmt, allocs, err := c.prepareBound(query, args)
	if err != nil {
		return nil, err
	}
	return &Rows{conn: c, pstmt: pstmt, allocs: allocs}, nil
}

// QueryOne runs query and returns the first column of its first row, or an
// error when the statement yields no rows. Convenience for scalar selects.
func (c *Conn) QueryOne(query string, args ...any) (any, error) {
	rows, err := c.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, fmt.Errorf("query %q returned no rows", query)
	}
	vals := rows.Values()
	if len(vals) == 0 {
		return nil, fmt.Errorf("query %q returned no columns", query)
	}
	return vals[0], nil
}

// LastInsertRowID returns the rowid of the most recent successful insert.
func (c *Conn) LastInsertRowID() int64 {
	return sqlite3.Xsqlite3_last_insert_rowid(c.tls, c.db)
}

// Changes returns the number of rows modified by the last statement.
func (c *Conn) Changes() int {
	return int(sqlite3.Xsqlite3_changes(c.tls, c.db))
}

// prepare compiles the first statement in zsql and returns the handle plus a
// pointer to the remaining text, 0 when the input is exhausted.
func (c *Conn) prepare(zsql uintptr) (pstmt, tail uintptr, err error) {
	ppstmt, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, 0, err
	}
	defer libc.Xfree(c.tls, ppstmt)
	pptail, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, 0, err
	}
	defer libc.Xfree(c.tls, pptail)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, zsql, -1, ppstmt, pptail); rc != sqlite3.SQLITE_OK {
		return 0, 0, c.lastError(rc)
	}
	pstmt = *(*uintptr)(unsafe.Pointer(ppstmt))
	tail = *(*uintptr)(unsafe.Pointer(pptail))
	if tail != 0 && *(*byte)(unsafe.Pointer(tail)) == 0 {
		tail = 0
	}
	return pstmt, tail, nil
}

// prepareBound compiles a single statement and binds positional args.
// Returned allocs hold C copies of text and blob arguments and must be freed
// after the statement is finalized.
func (c *Conn) prepareBound(query string, args []any) (pstmt uintptr, allocs []uintptr, err error) {
	zsql, err := libc.CString(query)
	if err != nil {
		return 0, nil, err
	}
	defer libc.Xfree(c.tls, zsql)

	pstmt, _, err = c.prepare(zsql)
	if err != nil {
		return 0, nil, err
	}
	if pstmt == 0 {
		return 0, nil, fmt.Errorf("empty statement %q", query)
	}

	allocs, err = c.bind(pstmt, args)
	if err != nil {
		sqlite3.Xsqlite3_finalize(c.tls, pstmt)
		c.freeAll(allocs)
		return 0, nil, err
	}
	return pstmt, allocs, nil
}

func (c *Conn) bind(pstmt uintptr, args []any) (allocs []uintptr, err error) {
	want := int(sqlite3.Xsqlite3_bind_parameter_count(c.tls, pstmt))
	if want != len(args) {
		return nil, fmt.Errorf("statement wants %d arguments, got %d", want, len(args))
	}

	for i, arg := range args {
		idx := int32(i + 1)
		var rc int32
		switch x := arg.(type) {
		case nil:
			rc = sqlite3.Xsqlite3_bind_null(c.tls, pstmt, idx)
		case int:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, pstmt, idx, int64(x))
		case int64:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, pstmt, idx, x)
		case bool:
			rc = sqlite3.Xsqlite3_bind_int(c.tls, pstmt, idx, libc.Bool32(x))
		case float64:
			rc = sqlite3.Xsqlite3_bind_double(c.tls, pstmt, idx, x)
		case string:
			var p uintptr
			if p, err = libc.CString(x); err != nil {
				return allocs, err
			}
			allocs = append(allocs, p)
			rc = sqlite3.Xsqlite3_bind_text(c.tls, pstmt, idx, p, int32(len(x)), 0)
		case []byte:
			if len(x) == 0 {
				rc = sqlite3.Xsqlite3_bind_null(c.tls, pstmt, idx)
				break
			}
			p := libc.Xmalloc(c.tls, types.Size_t(len(x)))
			if p == 0 {
				return allocs, fmt.Errorf("can't allocate %d bytes for blob argument", len(x))
			}
			allocs = append(allocs, p)
			copy((*libc.RawMem)(unsafe.Pointer(p))[:len(x):len(x)], x)
			rc = sqlite3.Xsqlite3_bind_blob(c.tls, pstmt, idx, p, int32(len(x)), 0)
		default:
			return allocs, fmt.Errorf("unsupported bind argument type %T", arg)
		}
		if rc != sqlite3.SQLITE_OK {
			return allocs, c.lastError(rc)
		}
	}
	return allocs, nil
}

// stepAll drives a statement to completion, discarding rows.
func (c *Conn) stepAll(pstmt uintptr) error {
	for {
		switch rc := sqlite3.Xsqlite3_step(c.tls, pstmt); rc {
		case sqlite3.SQLITE_ROW:
			continue
		case sqlite3.SQLITE_DONE:
			return nil
		default:
			return c.lastError(rc)
		}
	}
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("can't allocate %d bytes", n)
}

func (c *Conn) freeAll(ps []uintptr) {
	for _, p := range ps {
		if p != 0 {
			libc.Xfree(c.tls, p)
		}
	}
}

// lastError builds an error from the engine's result code and current
// connection message.
func (c *Conn) lastError(rc int32) error {
	str := libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
	msg := libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
	if msg == str || msg == "" {
		return fmt.Errorf("%s (%d)", str, rc)
	}
	return fmt.Errorf("%s: %s (%d)", str, msg, rc)
}

func libcSize(n int32) types.Size_t { return types.Size_t(n) }

// Rows iterates the result set of a Query. Not safe for concurrent use.
type Rows struct {
	conn   *Conn
	pstmt  uintptr
	allocs []uintptr
	err    error
	closed bool
}

// Next advances to the next row, returning false at the end of the set or on
// error; check Err after the loop.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	switch rc := sqlite3.Xsqlite3_step(r.conn.tls, r.pstmt); rc {
	case sqlite3.SQLITE_ROW:
		return true
	case sqlite3.SQLITE_DONE:
		return false
	default:
		r.err = r.conn.lastError(rc)
		return false
	}
}

// Columns returns the column names of the result set.
func (r *Rows) Columns() []string {
	n := int(sqlite3.Xsqlite3_column_count(r.conn.tls, r.pstmt))
	cols := make([]string, n)
	for i := 0; i < n; i++ {
		cols[i] = libc.GoString(sqlite3.Xsqlite3_column_name(r.conn.tls, r.pstmt, int32(i)))
	}
	return cols
}

// Values decodes the current row. Integer, float, text, blob and null map to
// int64, float64, string, []byte and nil.
func (r *Rows) Values() []any {
	tls := r.conn.tls
	n := int32(sqlite3.Xsqlite3_column_count(tls, r.pstmt))
	out := make([]any, n)
	for i := int32(0); i < n; i++ {
		switch sqlite3.Xsqlite3_column_type(tls, r.pstmt, i) {
		case sqlite3.SQLITE_INTEGER:
			out[i] = sqlite3.Xsqlite3_column_int64(tls, r.pstmt, i)
		case sqlite3.SQLITE_FLOAT:
			out[i] = sqlite3.Xsqlite3_column_double(tls, r.pstmt, i)
		case sqlite3.SQLITE_TEXT:
			p := sqlite3.Xsqlite3_column_text(tls, r.pstmt, i)
			sz := sqlite3.Xsqlite3_column_bytes(tls, r.pstmt, i)
			if p == 0 || sz == 0 {
				out[i] = ""
				break
			}
			b := make([]byte, sz)
			copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:sz:sz])
			out[i] = string(b)
		case sqlite3.SQLITE_BLOB:
			p := sqlite3.Xsqlite3_column_blob(tls, r.pstmt, i)
			sz := sqlite3.Xsqlite3_column_bytes(tls, r.pstmt, i)
			if p == 0 || sz == 0 {
				out[i] = []byte(nil)
				break
			}
			b := make([]byte, sz)
			copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:sz:sz])
			out[i] = b
		default:
			out[i] = nil
		}
	}
	return out
}

// Err returns the first error hit while iterating.
func (r *Rows) Err() error { return r.err }

// Close finalizes the statement and releases bind allocations. Idempotent.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	rc := sqlite3.Xsqlite3_finalize(r.conn.tls, r.pstmt)
	r.conn.freeAll(r.allocs)
	r.allocs = nil
	if rc != sqlite3.SQLITE_OK {
		return r.conn.lastError(rc)
	}
	return nil
}
