package connector

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver loaded here
	_ "github.com/lib/pq"              // postgres driver loaded here
)

// DetectSQLType classifies a connection string as mysql or postgres by its
// shape, same heuristic the dsn itself carries: postgres urls start with
// postgres://, mysql dsns address the server as @tcp(...).
func DetectSQLType(conn string) (Capability, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		return CapPostgres, nil
	}
	if strings.Contains(conn, "@tcp(") {
		return CapMySQL, nil
	}
	return "", fmt.Errorf("can't determine database type from connection string")
}

// OpenSQL opens a client connection to an external mysql or postgres server,
// provided the capability set grants it. The caller owns the returned handle.
func (s Set) OpenSQL(conn string) (*sql.DB, error) {
	dbt, err := DetectSQLType(conn)
	if err != nil {
		return nil, err
	}
	if !s.Has(dbt) {
		return nil, fmt.Errorf("can't open %s source: %w", dbt, ErrCapabilityUnavailable)
	}

	db, err := sql.Open(string(dbt), conn)
	if err != nil {
		return nil, fmt.Errorf("can't open %s connection: %w", dbt, err)
	}
	log.Printf("[DEBUG] opened %s client connection", dbt)
	return db, nil
}
