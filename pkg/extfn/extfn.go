// Package extfn installs a fixed catalog of mathematical and string SQL
// functions on a bridge connection, mirroring the classic SQLite
// extension-functions contrib set plus an inverse normal CDF. The catalog is
// stateless after registration; all entries are deterministic scalars.
package extfn

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/warpdata/conduit/pkg/sqlbridge"
)

// ErrBootstrap wraps any failure while installing the catalog.
var ErrBootstrap = errors.New("extension catalog install failed")

// entry is one catalog function: fixed name and arity, a float kernel or a
// custom callback for the few non-numeric ones.
type entry struct {
	name  string
	arity int
	fn    sqlbridge.Func
}

// Register installs the full catalog on conn. Registering the catalog twice
// is safe: identical definitions silently replace each other. On failure the
// returned error names the offending function and wraps ErrBootstrap;
// functions installed before the failure remain registered.
func Register(conn *sqlbridge.Conn) error {
	for _, e := range catalog() {
		if err := conn.Register(e.name, e.arity, true, e.fn); err != nil {
			return fmt.Errorf("%w: %s/%d: %v", ErrBootstrap, e.name, e.arity, err)
		}
	}
	log.Printf("[DEBUG] extension catalog registered, %d functions", len(catalog()))
	return nil
}

func catalog() []entry {
	return []entry{
		{"acos", 1, math1(math.Acos)},
		{"asin", 1, math1(math.Asin)},
		{"atan", 1, math1(math.Atan)},
		{"atn2", 2, math2(math.Atan2)},
		{"cos", 1, math1(math.Cos)},
		{"sin", 1, math1(math.Sin)},
		{"tan", 1, math1(math.Tan)},
		{"cot", 1, math1(func(x float64) float64 { return 1 / math.Tan(x) })},
		{"cosh", 1, math1(math.Cosh)},
		{"sinh", 1, math1(math.Sinh)},
		{"tanh", 1, math1(math.Tanh)},
		{"degrees", 1, math1(func(x float64) float64 { return x * 180 / math.Pi })},
		{"radians", 1, math1(func(x float64) float64 { return x * math.Pi / 180 })},
		{"exp", 1, math1(math.Exp)},
		{"ln", 1, math1(math.Log)},
		{"log", 1, math1(math.Log)},
		{"log10", 1, math1(math.Log10)},
		{"power", 2, math2(math.Pow)},
		{"sign", 1, math1(sign)},
		{"sqrt", 1, math1(math.Sqrt)},
		{"square", 1, math1(func(x float64) float64 { return x * x })},
		{"ceil", 1, math1(math.Ceil)},
		{"floor", 1, math1(math.Floor)},
		{"pi", 0, pi},
		{"gaussinv", 1, math1(ltqnorm)},
		{"reverse", 1, str1(reverse)},
		{"proper", 1, str1(proper)},
		{"padl", 2, padl},
		{"padr", 2, padr},
		{"replicate", 2, replicate},
		{"charindex", 2, charindex},
		{"leftstr", 2, leftstr},
		{"rightstr", 2, rightstr},
	}
}

// math1 adapts a float kernel of one argument. NULL in, NULL out; domain
// errors surface as NULL, matching the engine's built-in math functions.
func math1(f func(float64) float64) sqlbridge.Func {
	return func(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
		if args[0].IsNull() {
			ctx.ResultNull()
			return
		}
		resultFloat(ctx, f(args[0].Float()))
	}
}

func math2(f func(float64, float64) float64) sqlbridge.Func {
	return func(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
		if args[0].IsNull() || args[1].IsNull() {
			ctx.ResultNull()
			return
		}
		resultFloat(ctx, f(args[0].Float(), args[1].Float()))
	}
}

func resultFloat(ctx *sqlbridge.CallContext, v float64) {
	if math.IsNaN(v) {
		ctx.ResultNull()
		return
	}
	ctx.ResultFloat(v)
}

func pi(ctx *sqlbridge.CallContext, _ []sqlbridge.Value) {
	ctx.ResultFloat(math.Pi)
}

func str1(f func(string) string) sqlbridge.Func {
	return func(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
		if args[0].IsNull() {
			ctx.ResultNull()
			return
		}
		ctx.ResultText(f(args[0].Text()), sqlbridge.OwnTransient)
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// proper upper-cases the first letter of every word and lower-cases the rest.
func proper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	boundary := true
	for _, r := range strings.ToLower(s) {
		if boundary && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		boundary = r == ' ' || r == '\t' || r == '\n'
		b.WriteRune(r)
	}
	return b.String()
}

func padl(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	pad(ctx, args, func(s string, n int) string {
		if len(s) >= n {
			return s
		}
		return strings.Repeat(" ", n-len(s)) + s
	})
}

func padr(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	pad(ctx, args, func(s string, n int) string {
		if len(s) >= n {
			return s
		}
		return s + strings.Repeat(" ", n-len(s))
	})
}

func pad(ctx *sqlbridge.CallContext, args []sqlbridge.Value, f func(string, int) string) {
	if args[0].IsNull() || args[1].IsNull() {
		ctx.ResultNull()
		return
	}
	n := int(args[1].Int64())
	if n < 0 {
		ctx.Error(fmt.Errorf("pad length must not be negative, got %d", n))
		return
	}
	ctx.ResultText(f(args[0].Text(), n), sqlbridge.OwnTransient)
}

func replicate(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	if args[0].IsNull() || args[1].IsNull() {
		ctx.ResultNull()
		return
	}
	n := int(args[1].Int64())
	if n < 0 {
		ctx.Error(fmt.Errorf("replicate count must not be negative, got %d", n))
		return
	}
	ctx.ResultText(strings.Repeat(args[0].Text(), n), sqlbridge.OwnTransient)
}

// charindex returns the 1-based position of needle in haystack, 0 when absent.
func charindex(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	if args[0].IsNull() || args[1].IsNull() {
		ctx.ResultNull()
		return
	}
	idx := strings.Index(args[1].Text(), args[0].Text())
	ctx.ResultInt64(int64(idx + 1))
}

func leftstr(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	substr(ctx, args, func(r []rune, n int) []rune { return r[:n] })
}

func rightstr(ctx *sqlbridge.CallContext, args []sqlbridge.Value) {
	substr(ctx, args, func(r []rune, n int) []rune { return r[len(r)-n:] })
}

func substr(ctx *sqlbridge.CallContext, args []sqlbridge.Value, f func([]rune, int) []rune) {
	if args[0].IsNull() || args[1].IsNull() {
		ctx.ResultNull()
		return
	}
	r := []rune(args[0].Text())
	n := int(args[1].Int64())
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	ctx.ResultText(string(f(r, n)), sqlbridge.OwnTransient)
}
