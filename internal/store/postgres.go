package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"stigflux/backend/compliance-api/internal/model"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(host, port, user, password, dbname string, logger *slog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

// EnsureSchema creates the tables owned by this service if they do not
// exist. The systems/findings/baseline tables belong to the surrounding
// application and are only read here.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS controls (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			control_text TEXT NOT NULL,
			discussion TEXT NOT NULL DEFAULT '',
			import_run TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS control_ccis (
			id SERIAL PRIMARY KEY,
			control_id TEXT NOT NULL REFERENCES controls(id) ON DELETE CASCADE,
			cci TEXT NOT NULL,
			definition TEXT NOT NULL DEFAULT '',
			UNIQUE (control_id, cci)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_control_ccis_cci ON control_ccis(cci)`,
		`CREATE TABLE IF NOT EXISTS control_relations (
			id SERIAL PRIMARY KEY,
			control_id TEXT NOT NULL REFERENCES controls(id) ON DELETE CASCADE,
			related_control_id TEXT NOT NULL,
			UNIQUE (control_id, related_control_id)
		)`,
		`CREATE TABLE IF NOT EXISTS determination_overrides (
			id TEXT NOT NULL DEFAULT '',
			package_id TEXT NOT NULL,
			control_id TEXT NOT NULL,
			determination TEXT NOT NULL,
			set_by TEXT NOT NULL DEFAULT '',
			set_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (package_id, control_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// ClearCatalog deletes children before the controls table so foreign keys
// never block the reseed.
func (s *PostgresStore) ClearCatalog(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"control_ccis", "control_relations", "controls"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog clear: %w", err)
	}
	return nil
}

// InsertControls inserts one batch of controls in a single transaction.
func (s *PostgresStore) InsertControls(ctx context.Context, controls []model.Control) error {
	if len(controls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin control batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO controls (id, name, control_text, discussion, import_run)
		 VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare control insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range controls {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.ControlText, c.Discussion, c.ImportRun); err != nil {
			return fmt.Errorf("failed to insert control %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit control batch: %w", err)
	}
	return nil
}

// InsertControlCCIs inserts one batch of control/CCI links in a single
// transaction.
func (s *PostgresStore) InsertControlCCIs(ctx context.Context, ccis []model.ControlCCI) error {
	if len(ccis) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cci batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO control_ccis (control_id, cci, definition) VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cci insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range ccis {
		if _, err := stmt.ExecContext(ctx, c.ControlID, c.CCI, c.Definition); err != nil {
			return fmt.Errorf("failed to insert cci %s for control %s: %w", c.CCI, c.ControlID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cci batch: %w", err)
	}
	return nil
}

// InsertControlRelation inserts a single relation edge. Duplicate edges fail
// on the unique constraint; the importer records and skips them.
func (s *PostgresStore) InsertControlRelation(ctx context.Context, rel model.ControlRelation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO control_relations (control_id, related_control_id) VALUES ($1, $2)`,
		rel.ControlID, rel.RelatedControlID)
	if err != nil {
		return fmt.Errorf("failed to insert relation %s -> %s: %w", rel.ControlID, rel.RelatedControlID, err)
	}
	return nil
}

// CatalogCounts queries the durable row counts after commit so import
// reports match committed state, not in-memory accumulation.
func (s *PostgresStore) CatalogCounts(ctx context.Context) (int, int, int, error) {
	var controls, ccis, relations int
	row := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM controls),
		        (SELECT COUNT(*) FROM control_ccis),
		        (SELECT COUNT(*) FROM control_relations)`)
	if err := row.Scan(&controls, &ccis, &relations); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count catalog rows: %w", err)
	}
	return controls, ccis, relations, nil
}

// GetControl returns the control with the given normalized id, or (nil, nil)
// when it is not in the catalog.
func (s *PostgresStore) GetControl(ctx context.Context, id string) (*model.Control, error) {
	var c model.Control
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, control_text, discussion, import_run FROM controls WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.ControlText, &c.Discussion, &c.ImportRun)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query control: %w", err)
	}
	return &c, nil
}

// CCIsForControl returns the CCI links owned by one control.
func (s *PostgresStore) CCIsForControl(ctx context.Context, controlID string) ([]model.ControlCCI, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT control_id, cci, definition FROM control_ccis WHERE control_id = $1 ORDER BY cci`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ccis: %w", err)
	}
	defer rows.Close()

	var ccis []model.ControlCCI
	for rows.Next() {
		var c model.ControlCCI
		if err := rows.Scan(&c.ControlID, &c.CCI, &c.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan cci: %w", err)
		}
		ccis = append(ccis, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ccis: %w", err)
	}
	return ccis, nil
}

// RelationsForControl returns the relation edges sourced at one control. The
// Target side is resolved with a left join and stays nil for edges whose
// related id is not in the catalog.
func (s *PostgresStore) RelationsForControl(ctx context.Context, controlID string) ([]model.ControlRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.control_id, r.related_control_id,
		        t.id, t.name, t.control_text, t.discussion, t.import_run
		 FROM control_relations r
		 LEFT JOIN controls t ON t.id = r.related_control_id
		 WHERE r.control_id = $1
		 ORDER BY r.related_control_id`, controlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var rels []model.ControlRelation
	for rows.Next() {
		var rel model.ControlRelation
		var tid, tname, ttext, tdisc, trun sql.NullString
		if err := rows.Scan(&rel.ControlID, &rel.RelatedControlID, &tid, &tname, &ttext, &tdisc, &trun); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if tid.Valid {
			rel.Target = &model.Control{
				ID:          tid.String,
				Name:        tname.String,
				ControlText: ttext.String,
				Discussion:  tdisc.String,
				ImportRun:   trun.String,
			}
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return rels, nil
}

// ControlsForCCI returns every control the given CCI code maps to, joined
// through control_ccis.
func (s *PostgresStore) ControlsForCCI(ctx context.Context, cci string) ([]model.Control, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.control_text, c.discussion, c.import_run
		 FROM control_ccis l
		 JOIN controls c ON c.id = l.control_id
		 WHERE l.cci = $1
		 ORDER BY c.id`, cci)
	if err != nil {
		return nil, fmt.Errorf("failed to query controls for cci: %w", err)
	}
	defer rows.Close()

	var controls []model.Control
	for rows.Next() {
		var c model.Control
		if err := rows.Scan(&c.ID, &c.Name, &c.ControlText, &c.Discussion, &c.ImportRun); err != nil {
			return nil, fmt.Errorf("failed to scan control: %w", err)
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating controls: %w", err)
	}
	return controls, nil
}

// PackageExists reports whether any system or baseline row references the
// package.
func (s *PostgresStore) PackageExists(ctx context.Context, packageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM systems WHERE package_id = $1)
		     OR EXISTS (SELECT 1 FROM package_baselines WHERE package_id = $1)`, packageID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check package: %w", err)
	}
	return exists, nil
}

// SystemsForPackage returns every system in the package's scope.
func (s *PostgresStore) SystemsForPackage(ctx context.Context, packageID string) ([]model.System, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, package_id, COALESCE(group_id, '') FROM systems WHERE package_id = $1 ORDER BY id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query systems: %w", err)
	}
	defer rows.Close()

	var systems []model.System
	for rows.Next() {
		var sys model.System
		if err := rows.Scan(&sys.ID, &sys.PackageID, &sys.GroupID); err != nil {
			return nil, fmt.Errorf("failed to scan system: %w", err)
		}
		systems = append(systems, sys)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating systems: %w", err)
	}
	return systems, nil
}

// FindingsForSystem returns the findings attached to one system.
func (s *PostgresStore) FindingsForSystem(ctx context.Context, systemID string) ([]model.Finding, error) {
	return s.queryFindings(ctx,
		`SELECT f.id, f.system_id, COALESCE(f.control_id, ''), COALESCE(f.cci, ''), f.severity, f.status
		 FROM findings f WHERE f.system_id = $1 ORDER BY f.id`, systemID)
}

// FindingsForGroup returns the findings for every system in one group, as a
// single joined query.
func (s *PostgresStore) FindingsForGroup(ctx context.Context, groupID string) ([]model.Finding, error) {
	return s.queryFindings(ctx,
		`SELECT f.id, f.system_id, COALESCE(f.control_id, ''), COALESCE(f.cci, ''), f.severity, f.status
		 FROM findings f
		 JOIN systems sys ON sys.id = f.system_id
		 WHERE sys.group_id = $1 ORDER BY f.id`, groupID)
}

// FindingsForPackage returns the findings for every system in the package's
// scope. One query plan, so a concurrent finding import can make the result
// stale but never torn.
func (s *PostgresStore) FindingsForPackage(ctx context.Context, packageID string) ([]model.Finding, error) {
	return s.queryFindings(ctx,
		`SELECT f.id, f.system_id, COALESCE(f.control_id, ''), COALESCE(f.cci, ''), f.severity, f.status
		 FROM findings f
		 JOIN systems sys ON sys.id = f.system_id
		 WHERE sys.package_id = $1 ORDER BY f.id`, packageID)
}

func (s *PostgresStore) queryFindings(ctx context.Context, query string, arg any) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var f model.Finding
		if err := rows.Scan(&f.ID, &f.SystemID, &f.ControlID, &f.CCI, &f.Severity, &f.Status); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return findings, nil
}

// BaselineForPackage returns the package's selected controls with their
// applicability flags.
func (s *PostgresStore) BaselineForPackage(ctx context.Context, packageID string) ([]model.BaselineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_id, control_id, applicable FROM package_baselines WHERE package_id = $1 ORDER BY control_id`,
		packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	defer rows.Close()

	var entries []model.BaselineEntry
	for rows.Next() {
		var e model.BaselineEntry
		if err := rows.Scan(&e.PackageID, &e.ControlID, &e.Applicable); err != nil {
			return nil, fmt.Errorf("failed to scan baseline entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating baseline: %w", err)
	}
	return entries, nil
}

// GetOverride returns the official override for the pair, or (nil, nil) when
// none is recorded.
func (s *PostgresStore) GetOverride(ctx context.Context, packageID, controlID string) (*model.Override, error) {
	var ov model.Override
	err := s.db.QueryRowContext(ctx,
		`SELECT id, package_id, control_id, determination, set_by, set_at
		 FROM determination_overrides WHERE package_id = $1 AND control_id = $2`,
		packageID, controlID).
		Scan(&ov.ID, &ov.PackageID, &ov.ControlID, &ov.Determination, &ov.SetBy, &ov.SetAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query override: %w", err)
	}
	return &ov, nil
}

// OverridesForPackage returns every official override recorded for the
// package.
func (s *PostgresStore) OverridesForPackage(ctx context.Context, packageID string) ([]model.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, package_id, control_id, determination, set_by, set_at
		 FROM determination_overrides WHERE package_id = $1 ORDER BY control_id`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []model.Override
	for rows.Next() {
		var ov model.Override
		if err := rows.Scan(&ov.ID, &ov.PackageID, &ov.ControlID, &ov.Determination, &ov.SetBy, &ov.SetAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", err)
	}
	return overrides, nil
}

// SetOverride upserts the official determination for a pair.
func (s *PostgresStore) SetOverride(ctx context.Context, ov model.Override) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO determination_overrides (id, package_id, control_id, determination, set_by, set_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (package_id, control_id) DO UPDATE SET
			id = EXCLUDED.id,
			determination = EXCLUDED.determination,
			set_by = EXCLUDED.set_by,
			set_at = EXCLUDED.set_at`,
		ov.ID, ov.PackageID, ov.ControlID, string(ov.Determination), ov.SetBy, ov.SetAt)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// ClearOverride removes the official determination for a pair, returning the
// pair to automatic inference.
func (s *PostgresStore) ClearOverride(ctx context.Context, packageID, controlID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM determination_overrides WHERE package_id = $1 AND control_id = $2`,
		packageID, controlID)
	if err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return nil
}

// Health checks if the database is accessible.
func (s *PostgresStore) Health() error {
	return s.db.Ping()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
