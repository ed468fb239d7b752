package sqlbridge

import (
	"log"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Ownership tells the engine how to treat a text or blob result buffer.
type Ownership int

const (
	// OwnTransient makes the engine copy the buffer immediately; the bridge
	// frees its temporary allocation right after handing it over. This is the
	// safe default.
	OwnTransient Ownership = iota

	// OwnStatic hands the engine a borrowed buffer that stays valid for the
	// lifetime of the connection. The bridge pins the allocation to the
	// connection and releases it on Close. Useful for interned strings
	// returned over and over.
	OwnStatic

	// OwnEngine allocates the buffer with the engine's own allocator and lets
	// the engine free it when it is done.
	OwnEngine
)

// CallContext identifies one invocation of a registered function and carries
// the result or error back to the engine. A callback must call exactly one
// result setter or Error before returning. The context is not valid after the
// callback returns.
type CallContext struct {
	tls  *libc.TLS
	ctx  uintptr
	conn *Conn

	name string // function name, for contract violation logs
	done bool   // a result or error was already set
}

// second-setter guard. returns true when a setter already ran, in which case
// the new call must be ignored.
func (c *CallContext) settled(op string) bool {
	if c.done {
		log.Printf("[WARN] function %q called %s after a result was already set, ignored", c.name, op)
		return true
	}
	c.done = true
	return false
}

// ResultNull reports SQL NULL for this row.
func (c *CallContext) ResultNull() {
	if c.settled("ResultNull") {
		return
	}
	sqlite3.Xsqlite3_result_null(c.tls, c.ctx)
}

// ResultInt64 reports an integer result for this row.
func (c *CallContext) ResultInt64(v int64) {
	if c.settled("ResultInt64") {
		return
	}
	sqlite3.Xsqlite3_result_int64(c.tls, c.ctx, v)
}

// ResultBool reports a boolean result, stored as 0 or 1.
func (c *CallContext) ResultBool(v bool) {
	if c.settled("ResultBool") {
		return
	}
	sqlite3.Xsqlite3_result_int(c.tls, c.ctx, libc.Bool32(v))
}

// ResultFloat reports a float result for this row.
func (c *CallContext) ResultFloat(v float64) {
	if c.settled("ResultFloat") {
		return
	}
	sqlite3.Xsqlite3_result_double(c.tls, c.ctx, v)
}

// ResultText reports a text result for this row. The ownership mode controls
// who frees the underlying buffer, see Ownership.
func (c *CallContext) ResultText(s string, own Ownership) {
	if c.settled("ResultText") {
		return
	}
	n := int32(len(s))
	switch own {
	case OwnStatic:
		p, err := libc.CString(s)
		if err != nil {
			c.rawError("out of memory")
			return
		}
		c.conn.pin(p)
		sqlite3.Xsqlite3_result_text(c.tls, c.ctx, p, n, 0) // SQLITE_STATIC
	case OwnEngine:
		p := engineAllocString(c.tls, s)
		if p == 0 {
			c.rawError("out of memory")
			return
		}
		sqlite3.Xsqlite3_result_text(c.tls, c.ctx, p, n, cFuncPointer(freeTrampoline))
	default: // OwnTransient
		p, err := libc.CString(s)
		if err != nil {
			c.rawError("out of memory")
			return
		}
		defer libc.Xfree(c.tls, p)
		sqlite3.Xsqlite3_result_text(c.tls, c.ctx, p, n, sqlite3.SQLITE_TRANSIENT)
	}
}

// ResultBlob reports a blob result for this row.
func (c *CallContext) ResultBlob(b []byte, own Ownership) {
	if c.settled("ResultBlob") {
		return
	}
	n := int32(len(b))
	if n == 0 {
		sqlite3.Xsqlite3_result_zeroblob(c.tls, c.ctx, 0)
		return
	}
	switch own {
	case OwnStatic:
		p := libc.Xmalloc(c.tls, libcSize(n))
		if p == 0 {
			c.rawError("out of memory")
			return
		}
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], b)
		c.conn.pin(p)
		sqlite3.Xsqlite3_result_blob(c.tls, c.ctx, p, n, 0) // SQLITE_STATIC
	case OwnEngine:
		p := sqlite3.Xsqlite3_malloc(c.tls, n)
		if p == 0 {
			c.rawError("out of memory")
			return
		}
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], b)
		sqlite3.Xsqlite3_result_blob(c.tls, c.ctx, p, n, cFuncPointer(freeTrampoline))
	default: // OwnTransient
		p := libc.Xmalloc(c.tls, libcSize(n))
		if p == 0 {
			c.rawError("out of memory")
			return
		}
		defer libc.Xfree(c.tls, p)
		copy((*libc.RawMem)(unsafe.Pointer(p))[:n:n], b)
		sqlite3.Xsqlite3_result_blob(c.tls, c.ctx, p, n, sqlite3.SQLITE_TRANSIENT)
	}
}

// Error fails the enclosing statement with the given error. The engine
// surfaces it as an ordinary query error, the connection stays usable.
func (c *CallContext) Error(err error) {
	if c.settled("Error") {
		return
	}
	c.rawError(err.Error())
}

// rawError reports without consulting the settled flag, used internally after
// the flag was already taken.
func (c *CallContext) rawError(msg string) {
	p, err := libc.CString(msg)
	if err != nil {
		sqlite3.Xsqlite3_result_error_code(c.tls, c.ctx, sqlite3.SQLITE_NOMEM)
		return
	}
	defer libc.Xfree(c.tls, p)
	sqlite3.Xsqlite3_result_error(c.tls, c.ctx, p, -1)
	sqlite3.Xsqlite3_result_error_code(c.tls, c.ctx, sqlite3.SQLITE_ERROR)
}

// finish closes out an invocation where the callback set nothing. The engine
// would default to NULL anyway, setting it explicitly keeps the behavior
// deterministic and lets us log the violation.
func (c *CallContext) finish() {
	if c.done {
		return
	}
	log.Printf("[WARN] function %q returned without setting a result or error, defaulting to NULL", c.name)
	c.done = true
	sqlite3.Xsqlite3_result_null(c.tls, c.ctx)
}

// freeTrampoline is handed to the engine as the destructor for OwnEngine
// buffers. The engine invokes it once it no longer needs the allocation.
func freeTrampoline(tls *libc.TLS, p uintptr) {
	sqlite3.Xsqlite3_free(tls, p)
}

// engineAllocString copies s into a NUL-terminated buffer allocated with the
// engine's allocator, to be released by sqlite3_free.
func engineAllocString(tls *libc.TLS, s string) uintptr {
	n := len(s) + 1
	p := sqlite3.Xsqlite3_malloc(tls, int32(n))
	if p == 0 {
		return 0
	}
	mem := (*libc.RawMem)(unsafe.Pointer(p))[:n:n]
	copy(mem, s)
	mem[n-1] = 0
	return p
}
