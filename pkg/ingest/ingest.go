// Package ingest streams delimited files into the embedded engine. Records
// flow through the csvio hook contract into a uuid-named staging table which
// is swapped into place once the parse finishes, so a failed load never
// leaves a half-filled destination behind.
package ingest

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/warpdata/conduit/pkg/csvio"
	"github.com/warpdata/conduit/pkg/sqlbridge"
)

// Options controls a single load.
type Options struct {
	Table     string // destination table, mandatory
	NoHeader  bool   // treat the first record as data, generate column names
	Limit     int    // stop after this many data rows, 0 means no limit
	BatchSize int    // rows per transaction, default 500
	CSV       csvio.Options
}

// Stats reports what a load did.
type Stats struct {
	Table   string
	Rows    int
	Columns []string
}

// Load reads one CSV document from r into the destination table. All records
// are stored as text, column types are left to the queries. Returns stats
// and the first error hit while parsing or inserting.
func Load(conn *sqlbridge.Conn, r io.Reader, opts Options) (Stats, error) {
	if opts.Table == "" {
		return Stats{}, fmt.Errorf("destination table is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	ld := &loader{conn: conn, opts: opts, staging: stagingName()}
	parser := csvio.New(r, opts.CSV, ld)
	if err := parser.Parse(); err != nil {
		ld.err = multierror.Append(ld.err, err).ErrorOrNil()
	}

	if ld.err != nil {
		result := multierror.Append(nil, ld.err)
		if ld.inTx {
			if err := conn.Exec("ROLLBACK"); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if ld.created {
			if err := conn.Exec("DROP TABLE IF EXISTS " + ld.staging); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return Stats{}, fmt.Errorf("can't load into %q: %w", opts.Table, result.ErrorOrNil())
	}

	if !ld.created {
		return Stats{}, fmt.Errorf("can't load into %q: document has no records", opts.Table)
	}

	if err := ld.finish(); err != nil {
		return Stats{}, fmt.Errorf("can't finalize load into %q: %w", opts.Table, err)
	}

	log.Printf("[INFO] loaded %d rows into %q (%d columns)", ld.rows, opts.Table, len(ld.columns))
	return Stats{Table: opts.Table, Rows: ld.rows, Columns: ld.columns}, nil
}

// loader implements csvio.Hooks, turning record callbacks into inserts.
type loader struct {
	conn *sqlbridge.Conn
	opts Options

	staging string
	columns []string
	insert  string
	created bool
	inTx    bool
	rows    int
	batched int
	err     error
}

// BeginDocument implements csvio.Hooks.
func (l *loader) BeginDocument() {
	log.Printf("[DEBUG] load into %q started, staging %q", l.opts.Table, l.staging)
}

// EndDocument implements csvio.Hooks.
func (l *loader) EndDocument() {
	log.Printf("[DEBUG] load into %q finished reading, %d rows", l.opts.Table, l.rows)
}

// ParseRecord implements csvio.Hooks. The first record defines the schema
// unless NoHeader is set. Returns false on error or when the row limit hits,
// stopping the parse so later records are never even tokenized.
func (l *loader) ParseRecord(rec []string) bool {
	if !l.created {
		if l.fail(l.createStaging(rec)) {
			return false
		}
		if !l.opts.NoHeader {
			return true // header consumed, not a data row
		}
	}

	if l.fail(l.insertRow(rec)) {
		return false
	}
	l.rows++
	return l.opts.Limit <= 0 || l.rows < l.opts.Limit
}

// fail records the first error and reports whether the parse should stop.
func (l *loader) fail(err error) bool {
	if err == nil {
		return false
	}
	if l.err == nil {
		l.err = err
	}
	return true
}

func (l *loader) createStaging(first []string) error {
	l.columns = ColumnNames(first, l.opts.NoHeader)

	ddl := make([]string, len(l.columns))
	for i, c := range l.columns {
		ddl[i] = c + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", l.staging, strings.Join(ddl, ", "))
	if err := l.conn.Exec(create); err != nil {
		return fmt.Errorf("can't create staging table: %w", err)
	}

	l.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		l.staging, strings.Join(l.columns, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(l.columns)), ","))
	l.created = true
	return nil
}

func (l *loader) insertRow(rec []string) error {
	if !l.inTx {
		if err := l.conn.Exec("BEGIN"); err != nil {
			return err
		}
		l.inTx = true
	}

	args := make([]any, len(l.columns))
	for i := range args {
		if i < len(rec) {
			args[i] = rec[i]
			continue
		}
		args[i] = nil // short record, pad with NULLs
	}
	// long records drop the extra fields, the schema came from the first row

	if err := l.conn.Exec(l.insert, args...); err != nil {
		return fmt.Errorf("can't insert row %d: %w", l.rows+1, err)
	}

	if l.batched++; l.batched >= l.opts.BatchSize {
		l.batched = 0
		l.inTx = false
		return l.conn.Exec("COMMIT")
	}
	return nil
}

// finish commits the tail batch and swaps the staging table into place.
func (l *loader) finish() error {
	if l.inTx {
		l.inTx = false
		if err := l.conn.Exec("COMMIT"); err != nil {
			return err
		}
	}
	swap := fmt.Sprintf("DROP TABLE IF EXISTS %s; ALTER TABLE %s RENAME TO %s",
		l.opts.Table, l.staging, l.opts.Table)
	return l.conn.Exec(swap)
}

func stagingName() string {
	return "load_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// ColumnNames sanitizes raw header fields into unique SQL identifiers. With
// generate set (headerless input) it ignores the values and produces cl0,
// cl1, ... for each position.
func ColumnNames(header []string, generate bool) []string {
	out := make([]string, len(header))
	seen := map[string]int{}
	for i, raw := range header {
		name := ""
		if !generate {
			name = strings.ToLower(strings.TrimSpace(raw))
			name = nonIdent.ReplaceAllString(strings.ReplaceAll(name, " ", "_"), "")
			name = strings.Trim(name, "_")
		}
		if name == "" || name[0] >= '0' && name[0] <= '9' {
			name = fmt.Sprintf("cl%d", i)
		}
		base := name
		if n := seen[base]; n > 0 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[base]++
		out[i] = name
	}
	return out
}
