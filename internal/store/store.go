package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver
)

const (
	currentSchemaVersion = 2
)

// Dialect identifies the SQL backend behind a Store
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store represents the catalogue database the crawler reconciles into
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// DialectForDSN picks the backend for a DSN: postgres URLs use pgx,
// anything else is treated as a SQLite file path.
func DialectForDSN(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open opens or creates the database named by dsn and applies migrations
func Open(dsn string) (*Store, error) {
	dialect := DialectForDSN(dsn)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)
	default:
		// Open with pragmas for performance and reliability
		sqliteDSN := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
		db, err = sql.Open("sqlite", sqliteDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite works best with a single writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	store := &Store{db: db, dialect: dialect}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the connection is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $N for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// ServerVersion returns the backend's version string
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	query := "SELECT sqlite_version()"
	if s.dialect == DialectPostgres {
		query = "SHOW server_version"
	}
	var version string
	if err := s.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query server version: %w", err)
	}
	return version, nil
}

// CheckIntegrity runs PRAGMA integrity_check on SQLite databases.
// PostgreSQL has no equivalent; a ping is performed instead.
func (s *Store) CheckIntegrity() error {
	if s.dialect == DialectPostgres {
		return s.db.Ping()
	}

	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// migrate applies database migrations
func (s *Store) migrate() error {
	if _, err := s.db.Exec(s.schemaVersionDDL()); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	v1, v2 := schemaV1SQLite, schemaV2
	if s.dialect == DialectPostgres {
		v1 = schemaV1Postgres
	}

	// Apply schema v1
	if version < 1 {
		if err := execStatements(tx, v1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Apply schema v2 - crawl status and event indexes
	if version < 2 {
		if err := execStatements(tx, v2); err != nil {
			return fmt.Errorf("failed to apply schema v2: %w", err)
		}
		if err := s.setSchemaVersion(tx, 2); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// execStatements runs a multi-statement DDL script one statement at a time
func execStatements(tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%w (statement: %.60s)", err, stmt)
		}
	}
	return nil
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(s.rebind("INSERT INTO schema_version (version) VALUES (?)"), version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CrawlStatus is the lifecycle state of a game system within a crawl
type CrawlStatus string

const (
	CrawlPending    CrawlStatus = "pending"
	CrawlProcessing CrawlStatus = "processing"
	CrawlSuccess    CrawlStatus = "success"
	CrawlPartial    CrawlStatus = "partial"
	CrawlError      CrawlStatus = "error"
)

// SourceBGG tags rows and mappings that originate from BoardGameGeek
const SourceBGG = "bgg"

// ExternalRefs maps an external source name to that source's identifier
type ExternalRefs map[string]string

// Merge returns a copy of r with the entries of other layered on top.
// Existing keys not present in other are kept.
func (r ExternalRefs) Merge(other ExternalRefs) ExternalRefs {
	out := make(ExternalRefs, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (r ExternalRefs) encode() (string, error) {
	if r == nil {
		r = ExternalRefs{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode external refs: %w", err)
	}
	return string(b), nil
}

func decodeExternalRefs(raw sql.NullString) (ExternalRefs, error) {
	refs := ExternalRefs{}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" || raw.String == "null" {
		return refs, nil
	}
	// Values may be stored as numbers by other writers; accept both
	var loose map[string]any
	if err := json.Unmarshal([]byte(raw.String), &loose); err != nil {
		return nil, fmt.Errorf("failed to decode external refs: %w", err)
	}
	for k, v := range loose {
		switch val := v.(type) {
		case string:
			refs[k] = val
		case float64:
			refs[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
		default:
			refs[k] = fmt.Sprint(val)
		}
	}
	return refs, nil
}

// GameSystem is a row of the catalogue. Zero values mean "absent".
type GameSystem struct {
	ID                 int64
	Name               string
	Slug               string
	ExternalRefs       ExternalRefs
	SourceOfTruth      string
	ReleaseDate        string // YYYY-MM-DD
	YearReleased       int
	DescriptionScraped string
	MinPlayers         int
	MaxPlayers         int
	AveragePlayTime    int
	AgeRating          string
	ComplexityRating   string
	PublisherID        int64
	HeroImageID        int64
	CrawlStatus        CrawlStatus
	LastCrawledAt      time.Time
	LastSuccessAt      time.Time
	ErrorMessage       string
	CMSApproved        bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GameSystemUpdate lists columns to change. Nil fields are left untouched.
type GameSystemUpdate struct {
	ExternalRefs       ExternalRefs
	CrawlStatus        *CrawlStatus
	LastCrawledAt      *time.Time
	LastSuccessAt      *time.Time
	ErrorMessage       *string // pointer to "" clears the column
	ReleaseDate        *string
	YearReleased       *int
	DescriptionScraped *string
	MinPlayers         *int
	MaxPlayers         *int
	AveragePlayTime    *int
	AgeRating          *string
	ComplexityRating   *string
	PublisherID        *int64
	HeroImageID        *int64
}

// MediaAsset is an uploaded image attached to a game system
type MediaAsset struct {
	ID           int64
	GameSystemID int64
	PublicID     string
	SecureURL    string
	Width        int
	Height       int
	Format       string
	License      string
	LicenseURL   string
	Kind         string
	OrderIndex   int
	Moderated    bool
	Checksum     string
	CreatedAt    time.Time
}

// Publisher is a game publisher
type Publisher struct {
	ID   int64
	Name string
}

// CrawlSeverity grades a crawl event
type CrawlSeverity string

const (
	SeverityInfo  CrawlSeverity = "info"
	SeverityWarn  CrawlSeverity = "warn"
	SeverityError CrawlSeverity = "error"
)

// CrawlEvent is one audit row in system_crawl_events
type CrawlEvent struct {
	ID           int64
	GameSystemID int64
	Source       string
	Status       CrawlStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	Severity     CrawlSeverity
	ErrorMessage string
	Details      map[string]any
}

// TaxonomyKind selects categories or mechanics
type TaxonomyKind string

const (
	KindCategory TaxonomyKind = "category"
	KindMechanic TaxonomyKind = "mechanic"
)

// taxonomyTables names the tables and columns backing a kind
type taxonomyTables struct {
	names       string // id, name
	join        string // game_system_id, <joinColumn>
	joinColumn  string
	external    string // source, external_tag, <externalColumn>
	externalCol string
}

func (k TaxonomyKind) tables() (taxonomyTables, error) {
	switch k {
	case KindCategory:
		return taxonomyTables{
			names:       "game_system_categories",
			join:        "game_system_to_category",
			joinColumn:  "category_id",
			external:    "external_category_map",
			externalCol: "category_id",
		}, nil
	case KindMechanic:
		return taxonomyTables{
			names:       "game_system_mechanics",
			join:        "game_system_to_mechanics",
			joinColumn:  "mechanics_id",
			external:    "external_mechanic_map",
			externalCol: "mechanic_id",
		}, nil
	}
	return taxonomyTables{}, fmt.Errorf("unknown taxonomy kind %q", string(k))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// dateOnly trims a scanned date or timestamp to YYYY-MM-DD
func dateOnly(raw sql.NullString) string {
	if !raw.Valid {
		return ""
	}
	v := strings.TrimSpace(raw.String)
	if len(v) > 10 {
		v = v[:10]
	}
	return v
}
