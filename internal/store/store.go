// Package store persists the ingest pipeline's durable state: the rolling
// snapshot ring and intrusion-incident log in sqlite, and the per-aircraft
// track history in a JSON ring file.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultKeepRecent is the snapshot ring size when the config is silent.
const DefaultKeepRecent = 100

// positionsPerCID bounds the opt-in aircraft_positions table per aircraft.
const positionsPerCID = 10

// Snapshot is one stored upstream payload. FetchedAt is the local wall time
// at ingest, in unix seconds; Raw is the payload exactly as fetched.
type Snapshot struct {
	ID        int64           `json:"id"`
	FetchedAt float64         `json:"fetched_at"`
	Raw       json.RawMessage `json:"data"`
}

// Incident is one durable intrusion-detection row.
type Incident struct {
	ID         int64    `json:"id"`
	DetectedAt float64  `json:"detected_at"`
	Callsign   string   `json:"callsign"`
	CID        *int64   `json:"cid"`
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Altitude   *float64 `json:"altitude"`
	Zone       string   `json:"zone"`
	Evidence   string   `json:"evidence"`
}

// AircraftPosition is one opt-in per-aircraft position row.
type AircraftPosition struct {
	CID         *int64
	Callsign    string
	Timestamp   float64
	Latitude    float64
	Longitude   float64
	Altitude    *float64
	Groundspeed *float64
	Heading     *float64
}

// Store wraps the sqlite database. One writer (the pipeline) appends per
// tick; readers may query concurrently under WAL.
type Store struct {
	db         *sql.DB
	keepRecent int
}

// Open opens (creating if needed) the database at path, applies pragmas, and
// runs all pending migrations. keepRecent <= 0 uses DefaultKeepRecent.
func Open(path string, keepRecent int) (*Store, error) {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, keepRecent: keepRecent}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies all pending embedded migrations.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSnapshot stores one raw payload and trims the ring to the newest
// keepRecent rows.
func (s *Store) AppendSnapshot(raw []byte, fetchedAt float64) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO snapshots (fetched_at, raw_json) VALUES (?, ?)",
		fetchedAt, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM snapshots
		WHERE id NOT IN (
			SELECT id FROM snapshots
			ORDER BY fetched_at DESC, id DESC
			LIMIT ?
		)`, s.keepRecent)
	if err != nil {
		return id, fmt.Errorf("trim snapshots: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the newest snapshot by fetched_at, or nil when the
// store is empty.
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	snaps, err := s.LatestSnapshots(1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}

// LatestSnapshots returns the n newest snapshots, newest first.
func (s *Store) LatestSnapshots(n int) ([]*Snapshot, error) {
	rows, err := s.db.Query(
		"SELECT id, fetched_at, raw_json FROM snapshots ORDER BY fetched_at DESC, id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var raw string
		if err := rows.Scan(&snap.ID, &snap.FetchedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Raw = json.RawMessage(raw)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// SnapshotCount returns the number of retained snapshots.
func (s *Store) SnapshotCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&n)
	return n, err
}

// AppendIncident stores one detection row and returns its id.
func (s *Store) AppendIncident(inc *Incident) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO incidents (detected_at, callsign, cid, name, lat, lon, altitude, zone, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.DetectedAt, inc.Callsign, inc.CID, inc.Name,
		inc.Lat, inc.Lon, inc.Altitude, inc.Zone, inc.Evidence,
	)
	if err != nil {
		return 0, fmt.Errorf("insert incident: %w", err)
	}
	return res.LastInsertId()
}

// ListIncidents returns the newest incidents, newest first.
func (s *Store) ListIncidents(limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, detected_at, callsign, cid, name, lat, lon, altitude, zone, evidence
		FROM incidents ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		var inc Incident
		var callsign, name, zone, evidence sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&inc.ID, &inc.DetectedAt, &callsign, &inc.CID, &name,
			&lat, &lon, &inc.Altitude, &zone, &evidence); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Callsign = callsign.String
		inc.Name = name.String
		inc.Lat = lat.Float64
		inc.Lon = lon.Float64
		inc.Zone = zone.String
		inc.Evidence = evidence.String
		out = append(out, &inc)
	}
	return out, rows.Err()
}

// SaveAircraftPositions appends one position row per aircraft and trims each
// CID to its newest positionsPerCID rows. Only called when the opt-in table
// is enabled.
func (s *Store) SaveAircraftPositions(positions []AircraftPosition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO aircraft_positions (cid, callsign, timestamp, latitude, longitude, altitude, groundspeed, heading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare positions insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		if p.CID == nil {
			continue
		}
		if _, err := stmt.Exec(p.CID, p.Callsign, p.Timestamp,
			p.Latitude, p.Longitude, p.Altitude, p.Groundspeed, p.Heading); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}

	_, err = tx.Exec(`
		DELETE FROM aircraft_positions
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY cid ORDER BY timestamp DESC, id DESC) AS rn
				FROM aircraft_positions
			) WHERE rn <= ?
		)`, positionsPerCID)
	if err != nil {
		return fmt.Errorf("trim positions: %w", err)
	}
	return tx.Commit()
}

// ListAircraftPositions returns the newest rows for one CID, newest first.
func (s *Store) ListAircraftPositions(cid int64, limit int) ([]AircraftPosition, error) {
	if limit <= 0 {
		limit = positionsPerCID
	}
	rows, err := s.db.Query(`
		SELECT cid, callsign, timestamp, latitude, longitude, altitude, groundspeed, heading
		FROM aircraft_positions WHERE cid = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, cid, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []AircraftPosition
	for rows.Next() {
		var p AircraftPosition
		var callsign sql.NullString
		if err := rows.Scan(&p.CID, &callsign, &p.Timestamp,
			&p.Latitude, &p.Longitude, &p.Altitude, &p.Groundspeed, &p.Heading); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Callsign = callsign.String
		out = append(out, p)
	}
	return out, rows.Err()
}
