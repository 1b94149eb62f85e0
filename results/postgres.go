package results

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/devskill-org/capacity-planner/network"
)

// YearRecord is what gets persisted for one solved year.
type YearRecord struct {
	RunID     uuid.UUID
	Scenario  string
	Year      int
	Objective float64
	Network   *network.Network
}

// Capacity is one persisted component capacity.
type Capacity struct {
	Component string // generator, storage_unit, store, link
	Name      string
	Carrier   string
	Bus       string
	Nominal   float64
	Optimal   float64
	BuildYear int
}

// PostgresStore keeps per-year objectives and capacities in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	years  string
	caps   string
	logger *log.Logger
}

// OpenPostgres connects to connString and prepares the schema.
func OpenPostgres(ctx context.Context, connString, prefix string, logger *log.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db, prefix, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database.
func NewPostgresStore(db *sql.DB, prefix string, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{
		db:     db,
		years:  pq.QuoteIdentifier(prefix + "_years"),
		caps:   pq.QuoteIdentifier(prefix + "_capacities"),
		logger: logger,
	}
}

// Close closes the database.
func (s *PostgresStore) Close() error { return s.db.Close() }

// EnsureSchema creates the results tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scenario  TEXT NOT NULL,
			year      INTEGER NOT NULL,
			run_id    UUID NOT NULL,
			objective DOUBLE PRECISION NOT NULL,
			saved_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (scenario, year)
		)`, s.years))
	if err != nil {
		return fmt.Errorf("failed to create years table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scenario   TEXT NOT NULL,
			year       INTEGER NOT NULL,
			component  TEXT NOT NULL,
			name       TEXT NOT NULL,
			carrier    TEXT NOT NULL,
			bus        TEXT NOT NULL,
			nominal    DOUBLE PRECISION NOT NULL,
			optimal    DOUBLE PRECISION NOT NULL,
			build_year INTEGER NOT NULL,
			PRIMARY KEY (scenario, year, component, name)
		)`, s.caps))
	if err != nil {
		return fmt.Errorf("failed to create capacities table: %w", err)
	}
	return nil
}

// SaveYear replaces everything stored for the record's scenario and year.
func (s *PostgresStore) SaveYear(ctx context.Context, rec YearRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (scenario, year, run_id, objective, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scenario, year) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			objective = EXCLUDED.objective,
			saved_at = EXCLUDED.saved_at
	`, s.years), rec.Scenario, rec.Year, rec.RunID.String(), rec.Objective, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert year %d: %w", rec.Year, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE scenario = $1 AND year = $2`, s.caps), rec.Scenario, rec.Year)
	if err != nil {
		return fmt.Errorf("failed to delete existing capacities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (scenario, year, component, name, carrier, bus, nominal, optimal, build_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.caps))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	caps := Capacities(rec.Network)
	for _, c := range caps {
		_, err := stmt.ExecContext(ctx, rec.Scenario, rec.Year, c.Component, c.Name, c.Carrier, c.Bus, c.Nominal, c.Optimal, c.BuildYear)
		if err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", c.Component, c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Printf("Saved year %d of scenario %s (%d capacities) to database", rec.Year, rec.Scenario, len(caps))
	return nil
}

// LoadCapacities returns the capacities stored for a scenario year.
func (s *PostgresStore) LoadCapacities(ctx context.Context, scenario string, year int) ([]Capacity, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT component, name, carrier, bus, nominal, optimal, build_year
		FROM %s
		WHERE scenario = $1 AND year = $2
		ORDER BY component, name
	`, s.caps), scenario, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query capacities: %w", err)
	}
	defer rows.Close()

	var out []Capacity
	for rows.Next() {
		var c Capacity
		if err := rows.Scan(&c.Component, &c.Name, &c.Carrier, &c.Bus, &c.Nominal, &c.Optimal, &c.BuildYear); err != nil {
			return nil, fmt.Errorf("failed to scan capacity: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capacities: %w", err)
	}
	return out, nil
}

// Capacities flattens the sized components of net.
func Capacities(net *network.Network) []Capacity {
	var out []Capacity
	for _, g := range net.Generators {
		out = append(out, Capacity{"generator", g.Name, g.Carrier, g.Bus, g.PNom, g.PNomOpt, g.BuildYear})
	}
	for _, su := range net.StorageUnits {
		out = append(out, Capacity{"storage_unit", su.Name, su.Carrier, su.Bus, su.PNom, su.PNomOpt, su.BuildYear})
	}
	for _, st := range net.Stores {
		out = append(out, Capacity{"store", st.Name, st.Carrier, st.Bus, st.ENom, st.ENomOpt, st.BuildYear})
	}
	for _, l := range net.Links {
		out = append(out, Capacity{"link", l.Name, l.Carrier, l.Bus0, l.PNom, l.PNomOpt, l.BuildYear})
	}
	return out
}
