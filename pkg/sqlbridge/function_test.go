package sqlbridge

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConn(t *testing.T) *Conn {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, conn.Close()) })
	return conn
}

func TestRegister_DoubleIt(t *testing.T) {
	conn := openTestConn(t)

	err := conn.Register("double_it", 1, false, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(args[0].Int64() * 2)
	})
	require.NoError(t, err)

	v, err := conn.QueryOne("SELECT double_it(21)")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = conn.QueryOne("SELECT double_it(0)")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRegister_ReplaceOnSamePair(t *testing.T) {
	conn := openTestConn(t)

	firstCalls, secondCalls := 0, 0
	require.NoError(t, conn.Register("pick", 1, false, func(ctx *CallContext, args []Value) {
		firstCalls++
		ctx.ResultText("first", OwnTransient)
	}))
	require.NoError(t, conn.Register("pick", 1, false, func(ctx *CallContext, args []Value) {
		secondCalls++
		ctx.ResultText("second", OwnTransient)
	}))

	v, err := conn.QueryOne("SELECT pick(1)")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.Equal(t, 0, firstCalls, "replaced callback must never be invoked")
	assert.Equal(t, 1, secondCalls)
}

func TestRegister_SameNameDifferentArity(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("arity", 1, true, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(1)
	}))
	require.NoError(t, conn.Register("arity", 2, true, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(2)
	}))

	v, err := conn.QueryOne("SELECT arity(0)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = conn.QueryOne("SELECT arity(0, 0)")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRegister_Variadic(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("argcount", Variadic, true, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(int64(len(args)))
	}))

	v, err := conn.QueryOne("SELECT argcount()")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = conn.QueryOne("SELECT argcount(1, 'two', 3.0)")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestRegister_Validation(t *testing.T) {
	conn := openTestConn(t)
	noop := func(ctx *CallContext, args []Value) { ctx.ResultNull() }

	tbl := []struct {
		name  string
		fname string
		arity int
		fn    Func
	}{
		{"empty name", "", 1, noop},
		{"bad arity", "f", -2, noop},
		{"nil callback", "f", 1, nil},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			err := conn.Register(tt.fname, tt.arity, false, tt.fn)
			assert.ErrorIs(t, err, ErrRegistration)
		})
	}
}

func TestRegister_ClosedConn(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Register("f", 1, false, func(ctx *CallContext, args []Value) { ctx.ResultNull() })
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestRegister_DeterministicUsableInIndex(t *testing.T) {
	conn := openTestConn(t)
	require.NoError(t, conn.Exec("CREATE TABLE t (x TEXT)"))

	require.NoError(t, conn.Register("det_len", 1, true, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(int64(len(args[0].Text())))
	}))
	require.NoError(t, conn.Register("vol_len", 1, false, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(int64(len(args[0].Text())))
	}))

	// the engine only admits deterministic functions into index expressions,
	// which makes the flag pass-through observable
	assert.NoError(t, conn.Exec("CREATE INDEX idx_det ON t (det_len(x))"))
	assert.Error(t, conn.Exec("CREATE INDEX idx_vol ON t (vol_len(x))"))
}

func TestRegister_DeterministicInvokedPerRow(t *testing.T) {
	conn := openTestConn(t)
	require.NoError(t, conn.Exec("CREATE TABLE nums (n INTEGER)"))
	require.NoError(t, conn.Exec("INSERT INTO nums VALUES (1), (2), (3), (4)"))

	calls := 0
	require.NoError(t, conn.Register("twice", 1, true, func(ctx *CallContext, args []Value) {
		calls++
		ctx.ResultInt64(args[0].Int64() * 2)
	}))

	rows, err := conn.Query("SELECT twice(n) FROM nums ORDER BY n")
	require.NoError(t, err)
	defer rows.Close()

	var got []int64
	for rows.Next() {
		got = append(got, rows.Values()[0].(int64))
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{2, 4, 6, 8}, got)
	assert.LessOrEqual(t, calls, 4, "caching may reduce calls but never add any")
	assert.Greater(t, calls, 0)
}

func TestCallContext_NoSetterYieldsNull(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("silent", 0, false, func(ctx *CallContext, args []Value) {
		// sets neither result nor error
	}))

	v, err := conn.QueryOne("SELECT silent() IS NULL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "missing setter must default to NULL, not fail")
}

func TestCallContext_SecondSetterIgnored(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("greedy", 0, false, func(ctx *CallContext, args []Value) {
		ctx.ResultInt64(1)
		ctx.ResultInt64(2)           // ignored
		ctx.Error(errors.New("no")) // also ignored
	}))

	v, err := conn.QueryOne("SELECT greedy()")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "first setter wins")
}

func TestCallContext_ErrorFailsStatementOnly(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("boom", 0, false, func(ctx *CallContext, args []Value) {
		ctx.Error(errors.New("kaboom"))
	}))

	_, err := conn.QueryOne("SELECT boom()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// the connection and its registrations survive the failed statement
	v, err := conn.QueryOne("SELECT 40 + 2")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestCallContext_PanicRecovered(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("panics", 0, false, func(ctx *CallContext, args []Value) {
		panic("do not unwind into the engine")
	}))

	_, err := conn.QueryOne("SELECT panics()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	v, err := conn.QueryOne("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCallContext_TextOwnershipModes(t *testing.T) {
	conn := openTestConn(t)

	for _, own := range []Ownership{OwnTransient, OwnStatic, OwnEngine} {
		own := own
		name := fmt.Sprintf("echo_%d", own)
		require.NoError(t, conn.Register(name, 1, true, func(ctx *CallContext, args []Value) {
			ctx.ResultText(args[0].Text()+"!", own)
		}))

		v, err := conn.QueryOne(fmt.Sprintf("SELECT %s('hello')", name))
		require.NoError(t, err)
		assert.Equal(t, "hello!", v, "ownership mode %d", own)
	}
}

func TestCallContext_BlobOwnershipModes(t *testing.T) {
	conn := openTestConn(t)

	for _, own := range []Ownership{OwnTransient, OwnStatic, OwnEngine} {
		own := own
		name := fmt.Sprintf("blob_%d", own)
		require.NoError(t, conn.Register(name, 0, true, func(ctx *CallContext, args []Value) {
			ctx.ResultBlob([]byte{0xde, 0xad, 0xbe, 0xef}, own)
		}))

		v, err := conn.QueryOne(fmt.Sprintf("SELECT %s()", name))
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, v)
	}
}

func TestValue_Accessors(t *testing.T) {
	conn := openTestConn(t)

	var types []ValueType
	require.NoError(t, conn.Register("probe", Variadic, false, func(ctx *CallContext, args []Value) {
		types = types[:0]
		for _, a := range args {
			types = append(types, a.Type())
		}
		ctx.ResultBool(args[len(args)-1].IsNull())
	}))

	v, err := conn.QueryOne("SELECT probe(1, 2.5, 'txt', x'ff', NULL)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []ValueType{TypeInteger, TypeFloat, TypeText, TypeBlob, TypeNull}, types)
}

func TestValue_Coercions(t *testing.T) {
	conn := openTestConn(t)

	require.NoError(t, conn.Register("sum_mixed", 2, true, func(ctx *CallContext, args []Value) {
		ctx.ResultFloat(args[0].Float() + args[1].Float())
	}))
	require.NoError(t, conn.Register("concat2", 2, true, func(ctx *CallContext, args []Value) {
		ctx.ResultText(args[0].Text()+args[1].Text(), OwnTransient)
	}))

	v, err := conn.QueryOne("SELECT sum_mixed(1, 2.5)")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, v.(float64), 1e-9)

	v, err = conn.QueryOne("SELECT concat2('foo', 'bar')")
	require.NoError(t, err)
	assert.Equal(t, "foobar", v)
}
