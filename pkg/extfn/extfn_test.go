package extfn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdata/conduit/pkg/sqlbridge"
)

func registeredConn(t *testing.T) *sqlbridge.Conn {
	t.Helper()
	conn, err := sqlbridge.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, conn.Close()) })
	require.NoError(t, Register(conn))
	return conn
}

func TestRegister_Idempotent(t *testing.T) {
	conn := registeredConn(t)
	require.NoError(t, Register(conn), "second bootstrap must be a safe no-op")

	v, err := conn.QueryOne("SELECT sign(-3)")
	require.NoError(t, err)
	assert.Equal(t, float64(-1), v)
}

func TestMathFunctions(t *testing.T) {
	conn := registeredConn(t)

	tbl := []struct {
		query string
		want  float64
	}{
		{"SELECT gaussinv(0.5)", 0},
		{"SELECT gaussinv(0.975)", 1.959964},
		{"SELECT power(2, 10)", 1024},
		{"SELECT sqrt(9)", 3},
		{"SELECT square(5)", 25},
		{"SELECT degrees(pi())", 180},
		{"SELECT radians(180)", math.Pi},
		{"SELECT exp(0)", 1},
		{"SELECT ln(1)", 0},
		{"SELECT log10(1000)", 3},
		{"SELECT sign(0)", 0},
		{"SELECT ceil(1.2)", 2},
		{"SELECT floor(1.8)", 1},
		{"SELECT atn2(0, 1)", 0},
		{"SELECT pi()", math.Pi},
	}
	for _, tt := range tbl {
		t.Run(tt.query, func(t *testing.T) {
			v, err := conn.QueryOne(tt.query)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v.(float64), 1e-5)
		})
	}
}

func TestMathFunctions_DomainErrorsYieldNull(t *testing.T) {
	conn := registeredConn(t)

	for _, query := range []string{
		"SELECT sqrt(-1) IS NULL",
		"SELECT acos(2) IS NULL",
		"SELECT gaussinv(-0.5) IS NULL",
		"SELECT gaussinv(1.5) IS NULL",
	} {
		v, err := conn.QueryOne(query)
		require.NoError(t, err, query)
		assert.Equal(t, int64(1), v, query)
	}
}

func TestMathFunctions_NullPropagation(t *testing.T) {
	conn := registeredConn(t)

	for _, query := range []string{
		"SELECT sqrt(NULL) IS NULL",
		"SELECT power(NULL, 2) IS NULL",
		"SELECT power(2, NULL) IS NULL",
		"SELECT reverse(NULL) IS NULL",
		"SELECT padl(NULL, 3) IS NULL",
	} {
		v, err := conn.QueryOne(query)
		require.NoError(t, err, query)
		assert.Equal(t, int64(1), v, query)
	}
}

func TestStringFunctions(t *testing.T) {
	conn := registeredConn(t)

	tbl := []struct {
		query string
		want  any
	}{
		{"SELECT reverse('abc')", "cba"},
		{"SELECT reverse('')", ""},
		{"SELECT proper('hello world')", "Hello World"},
		{"SELECT proper('MIXED case TEXT')", "Mixed Case Text"},
		{"SELECT padl('x', 3)", "  x"},
		{"SELECT padr('x', 3)", "x  "},
		{"SELECT padl('long', 2)", "long"},
		{"SELECT replicate('ab', 3)", "ababab"},
		{"SELECT charindex('lo', 'hello')", int64(4)},
		{"SELECT charindex('zz', 'hello')", int64(0)},
		{"SELECT leftstr('hello', 2)", "he"},
		{"SELECT rightstr('hello', 2)", "lo"},
		{"SELECT leftstr('hi', 10)", "hi"},
	}
	for _, tt := range tbl {
		t.Run(tt.query, func(t *testing.T) {
			v, err := conn.QueryOne(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestStringFunctions_NegativeArgsFailStatement(t *testing.T) {
	conn := registeredConn(t)

	_, err := conn.QueryOne("SELECT padl('x', -1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")

	_, err = conn.QueryOne("SELECT replicate('x', -1)")
	require.Error(t, err)
}

func TestCatalog_UsableInAggregates(t *testing.T) {
	conn := registeredConn(t)
	require.NoError(t, conn.Exec("CREATE TABLE samples (p REAL)"))
	require.NoError(t, conn.Exec("INSERT INTO samples VALUES (0.25), (0.5), (0.75)"))

	// gaussinv is symmetric around 0.5, the quantiles cancel out
	v, err := conn.QueryOne("SELECT sum(gaussinv(p)) FROM samples")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v.(float64), 1e-9)
}
