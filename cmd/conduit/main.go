package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/warpdata/conduit/pkg/connector"
	"github.com/warpdata/conduit/pkg/extfn"
	"github.com/warpdata/conduit/pkg/ingest"
	"github.com/warpdata/conduit/pkg/sqlbridge"
)

type options struct {
	DB      string `short:"d" long:"db" env:"CONDUIT_DB" description:"database file" default:":memory:"`
	CSV     string `short:"c" long:"csv" description:"csv file or sftp url to load"`
	Table   string `long:"table" description:"destination table for the load" default:"data"`
	Query   string `short:"q" long:"query" description:"query to run after loading"`
	Profile string `short:"p" long:"profile" env:"CONDUIT_PROFILE" description:"capability profile file"`

	NoHeader bool `long:"no-header" description:"first csv record is data, not a header"`
	Limit    int  `long:"limit" description:"stop loading after this many rows"`

	Dbg bool `long:"dbg" description:"debug mode"`
}

var revision = "latest"

func main() {
	fmt.Printf("conduit %s\n", revision)

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	if err := run(opts); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Printf("failed, %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var profile *connector.Profile
	if opts.Profile != "" {
		var err error
		if profile, err = connector.LoadProfile(opts.Profile); err != nil {
			return fmt.Errorf("can't load profile: %w", err)
		}
	}

	conn, err := sqlbridge.Open(opts.DB)
	if err != nil {
		return fmt.Errorf("can't open database: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("[WARN] can't close database: %v", err)
		}
	}()

	if err := extfn.Register(conn); err != nil {
		return fmt.Errorf("can't register extension functions: %w", err)
	}

	if opts.CSV != "" {
		src, name, err := openSource(ctx, opts.CSV, profile)
		if err != nil {
			return fmt.Errorf("can't open source %q: %w", opts.CSV, err)
		}
		defer src.Close()

		stats, err := ingest.Load(conn, src, ingest.Options{
			Table:    opts.Table,
			NoHeader: opts.NoHeader,
			Limit:    opts.Limit,
		})
		if err != nil {
			return err
		}
		log.Printf("[INFO] loaded %q: %d rows from %s", stats.Table, stats.Rows, name)
	}

	if opts.Query != "" {
		if err := runQuery(conn, opts.Query); err != nil {
			return fmt.Errorf("can't run query: %w", err)
		}
	}
	return nil
}

// openSource returns a reader for a local file or, for sftp:// urls, fetches
// the remote file through the profile's sftp connector.
func openSource(ctx context.Context, src string, profile *connector.Profile) (io.ReadCloser, string, error) {
	if !strings.HasPrefix(src, "sftp://") {
		f, err := os.Open(src) // nolint gosec // source path comes from the operator
		if err != nil {
			return nil, "", err
		}
		return f, src, nil
	}

	if profile == nil {
		return nil, "", fmt.Errorf("sftp source needs a profile with the sftp capability")
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, "", fmt.Errorf("can't parse sftp url: %w", err)
	}

	conn, err := profile.NewSFTP()
	if err != nil {
		return nil, "", err
	}
	user := u.User.Username()
	if user == "" {
		user = profile.SFTP.User
	}
	host := u.Host
	if host == "" {
		host = profile.SFTP.Host
	}

	client, err := conn.Connect(ctx, host, user)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("[WARN] can't close sftp session: %v", err)
		}
	}()

	var buf bytes.Buffer
	if _, err := client.Fetch(u.Path, &buf); err != nil {
		return nil, "", err
	}
	return io.NopCloser(&buf), u.Path, nil
}

func runQuery(conn *sqlbridge.Conn, query string) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	header := color.New(color.FgHiCyan).SprintFunc()
	fmt.Println(header(strings.Join(rows.Columns(), "\t")))

	count := 0
	for rows.Next() {
		fields := rows.Values()
		parts := make([]string, len(fields))
		for i, f := range fields {
			if f == nil {
				parts[i] = "NULL"
				continue
			}
			parts[i] = fmt.Sprintf("%v", f)
		}
		fmt.Println(strings.Join(parts, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	log.Printf("[INFO] query returned %d rows", count)
	return nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
