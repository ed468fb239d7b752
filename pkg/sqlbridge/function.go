package sqlbridge

import (
	"fmt"
	"sync"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Func is a host closure callable from SQL. It receives the per-invocation
// context and the argument vector and must report exactly one result or error
// through ctx before returning. It is always invoked synchronously on the
// thread executing the query, the bridge adds no concurrency of its own.
type Func func(ctx *CallContext, args []Value)

// Variadic is the arity sentinel for functions accepting any number of
// arguments.
const Variadic = -1

type funcKey struct {
	name  string
	arity int
}

// registration is the shared-ownership record the trampoline resolves a call
// through. It is held by the global table from Register until the entry is
// replaced or the owning connection closes, so the closure outlives any
// single query.
type registration struct {
	fn    Func
	conn  *Conn
	name  string
	cname uintptr // engine-side copy of the name, freed with the connection
}

// the engine hands back only an opaque user-data pointer per call, so live
// registrations are kept in a process-wide table keyed by the id passed as
// pApp to sqlite3_create_function. The table is the Go-side anchor that keeps
// closures reachable while the engine holds nothing but an integer.
var regs = struct {
	mu   sync.RWMutex
	m    map[uintptr]*registration
	next uintptr
}{m: map[uintptr]*registration{}}

func storeRegistration(r *registration) uintptr {
	regs.mu.Lock()
	defer regs.mu.Unlock()
	regs.next++
	regs.m[regs.next] = r
	return regs.next
}

func dropRegistration(id uintptr) {
	regs.mu.Lock()
	defer regs.mu.Unlock()
	delete(regs.m, id)
}

// Register installs fn as a SQL function callable under name with the given
// arity. Pass Variadic for arity to accept any number of arguments.
// Registering the same (name, arity) pair again replaces the previous entry;
// only the most recent closure is ever invoked. The deterministic flag is
// passed through to the engine untouched: it permits the engine to cache and
// reorder calls assuming equal arguments produce equal results, and claiming
// it wrongly is the caller's bug, not the bridge's to paper over.
func (c *Conn) Register(name string, arity int, deterministic bool, fn Func) error {
	if name == "" {
		return fmt.Errorf("%w: empty function name", ErrRegistration)
	}
	if arity < Variadic {
		return fmt.Errorf("%w: invalid arity %d for %q", ErrRegistration, arity, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil callback for %q", ErrRegistration, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == 0 {
		return fmt.Errorf("can't register %q: %w", name, ErrConnClosed)
	}

	cname, err := libc.CString(name)
	if err != nil {
		return fmt.Errorf("can't register %q: %w", name, err)
	}

	textRep := int32(sqlite3.SQLITE_UTF8)
	if deterministic {
		textRep |= sqlite3.SQLITE_DETERMINISTIC
	}

	reg := &registration{fn: fn, conn: c, name: name, cname: cname}
	id := storeRegistration(reg)

	rc := sqlite3.Xsqlite3_create_function(
		c.tls,
		c.db,
		cname,
		int32(arity),
		textRep,
		id,
		cFuncPointer(callTrampoline),
		0,
		0,
	)
	if rc != sqlite3.SQLITE_OK {
		dropRegistration(id)
		libc.Xfree(c.tls, cname)
		if rc == sqlite3.SQLITE_MISUSE {
			return fmt.Errorf("can't register %q/%d: %w", name, arity, ErrExtensionUnavailable)
		}
		return fmt.Errorf("%w: %q/%d: %s", ErrRegistration, name, arity, c.lastError(rc))
	}

	key := funcKey{name: name, arity: arity}
	if old, ok := c.funcs[key]; ok {
		// the engine already swapped the callable, retire the old record
		dropRegistration(old.id)
		libc.Xfree(c.tls, old.cname)
	}
	c.funcs[key] = connFunc{id: id, cname: cname}
	return nil
}

// callTrampoline is the single native entry point registered with the engine
// for every bridged function. It resolves the registration from the call's
// user data, decodes the argument vector and runs the closure. A panicking
// callback must not unwind into the engine, it is recovered here and turned
// into a statement error.
func callTrampoline(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	id := sqlite3.Xsqlite3_user_data(tls, ctx)
	regs.mu.RLock()
	reg := regs.m[id]
	regs.mu.RUnlock()

	cc := &CallContext{tls: tls, ctx: ctx}
	if reg == nil {
		// replaced or closed under a running statement, should not happen
		cc.name = "?"
		cc.Error(fmt.Errorf("%w: no live registration for call", ErrContractViolation))
		return
	}
	cc.conn = reg.conn
	cc.name = reg.name

	args := make([]Value, argc)
	for i := int32(0); i < argc; i++ {
		ptr := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
		args[i] = Value{tls: tls, ptr: ptr}
	}

	defer func() {
		if p := recover(); p != nil {
			cc.done = false // a half-set result does not matter anymore
			cc.Error(fmt.Errorf("%w: function %q panicked: %v", ErrContractViolation, reg.name, p))
			return
		}
		cc.finish()
	}()

	reg.fn(cc, args)
}

var ptrSize = unsafe.Sizeof(uintptr(0))

// cFuncPointer converts a top-level function to the pointer representation
// the transpiled engine calls through. Closures must not be passed here, the
// engine keeps the pointer beyond the current frame.
func cFuncPointer[T any](f T) uintptr {
	// assumes the layout described in https://golang.org/s/go11func: a func
	// value is a pointer to a pointer to the code, and top-level functions
	// live in read-only data and never move.
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}
