// Package csvio reads delimited text permissively and drives a set of
// host-supplied lifecycle hooks: one call at the start of the document, one
// per logical record, one at the end. Tokenization itself is delegated to
// encoding/csv in its most forgiving configuration; the value of this package
// is the hook contract around the read loop, letting the host observe record
// boundaries and stop the parse early.
package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// Hooks is the strategy object injected into a Parser at construction. All
// methods run on the goroutine driving Parse.
//
// BeginDocument fires exactly once, before the first byte is tokenized.
// EndDocument fires exactly once per parse attempt, also on error and early
// stop. ParseRecord fires once per logical record; returning false stops the
// parse cleanly and later records are never observed.
type Hooks interface {
	BeginDocument()
	EndDocument()
	ParseRecord(rec []string) bool
}

// HookFuncs adapts optional func fields to the Hooks interface. Nil fields
// keep the default behavior: no-op for the document hooks, continue for
// ParseRecord.
type HookFuncs struct {
	OnBeginDocument func()
	OnEndDocument   func()
	OnParseRecord   func(rec []string) bool
}

// BeginDocument implements Hooks.
func (h HookFuncs) BeginDocument() {
	if h.OnBeginDocument != nil {
		h.OnBeginDocument()
	}
}

// EndDocument implements Hooks.
func (h HookFuncs) EndDocument() {
	if h.OnEndDocument != nil {
		h.OnEndDocument()
	}
}

// ParseRecord implements Hooks.
func (h HookFuncs) ParseRecord(rec []string) bool {
	if h.OnParseRecord != nil {
		return h.OnParseRecord(rec)
	}
	return true
}

// Collector is a Hooks implementation accumulating every record. Limit > 0
// stops the parse after that many records.
type Collector struct {
	Limit   int
	Records [][]string
}

// BeginDocument resets the accumulated records.
func (c *Collector) BeginDocument() { c.Records = c.Records[:0] }

// EndDocument implements Hooks.
func (c *Collector) EndDocument() {}

// ParseRecord appends rec and reports whether the limit allows more.
func (c *Collector) ParseRecord(rec []string) bool {
	c.Records = append(c.Records, append([]string(nil), rec...))
	return c.Limit <= 0 || len(c.Records) < c.Limit
}

// Options controls tokenization. The zero value is the permissive default:
// sniffed delimiter, lazy quotes, variable field counts, no comment handling.
type Options struct {
	Comma   rune // field delimiter, 0 sniffs from the first line
	Comment rune // lines starting with this rune are skipped, 0 disables
}

// candidate delimiters for sniffing, most common first
var sniffCandidates = []rune{',', '\t', ';', '|'}

// Parser reads one document and drives its hook set. A parser is single-use
// and bound to exactly one hook set; it must not be shared across parses.
type Parser struct {
	src   *bufio.Reader
	opts  Options
	hooks Hooks
	used  bool
}

// New creates a parser over r with the given hooks. A nil hooks installs the
// default behavior (full parse, records discarded); use a Collector to keep
// them.
func New(r io.Reader, opts Options, hooks Hooks) *Parser {
	if hooks == nil {
		hooks = HookFuncs{}
	}
	return &Parser{src: bufio.NewReaderSize(r, 64*1024), opts: opts, hooks: hooks}
}

// Parse reads the document to the end or until ParseRecord stops it. The
// document hooks fire exactly once each regardless of outcome. Malformed
// records that even lazy quoting can't salvage are skipped with a warning;
// only reader failures abort the parse with an error.
func (p *Parser) Parse() (err error) {
	if p.used {
		return errors.New("parser is single-use, create a new one per document")
	}
	p.used = true

	p.hooks.BeginDocument()
	defer p.hooks.EndDocument()

	p.stripBOM()

	comma := p.opts.Comma
	if comma == 0 {
		comma = p.sniffDelimiter()
	}

	rd := csv.NewReader(p.src)
	rd.Comma = comma
	rd.Comment = p.opts.Comment
	rd.LazyQuotes = true
	rd.FieldsPerRecord = -1
	rd.ReuseRecord = true

	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			log.Printf("[WARN] skipping malformed record at line %d: %v", perr.Line, perr.Err)
			continue
		}
		if err != nil {
			return fmt.Errorf("can't read record: %w", err)
		}
		if !p.hooks.ParseRecord(rec) {
			return nil
		}
	}
}

func (p *Parser) stripBOM() {
	b, err := p.src.Peek(3)
	if err == nil && b[0] == 0xef && b[1] == 0xbb && b[2] == 0xbf {
		_, _ = p.src.Discard(3)
	}
}

// sniffDelimiter picks the candidate occurring most often in the first line,
// falling back to comma.
func (p *Parser) sniffDelimiter() rune {
	const window = 4096
	b, err := p.src.Peek(window)
	if err != nil && len(b) == 0 {
		return ','
	}
	line := string(b)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', 0
	for _, cand := range sniffCandidates {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// ReadAll is a convenience wrapper parsing the whole document into memory.
func ReadAll(r io.Reader, opts Options) ([][]string, error) {
	c := &Collector{}
	if err := New(r, opts, c).Parse(); err != nil {
		return nil, err
	}
	return c.Records, nil
}
