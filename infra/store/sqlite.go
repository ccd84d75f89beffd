// Package store provides the SQLite-backed durable store. WAL journaling keeps
// records crash-safe between operations; status updates use compare-and-set
// WHERE clauses so concurrent actors cannot lose writes.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
	corestore "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/store"
)

// SQLiteStore implements store.Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    address TEXT NOT NULL,
    lat REAL,
    lon REAL,
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_unit_id TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
    unit_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'offline',
    assigned_delivery_id INTEGER NOT NULL DEFAULT 0,
    lat REAL,
    lon REAL,
    located_at INTEGER NOT NULL DEFAULT 0,
    last_contact INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_acks (
    msg_id TEXT PRIMARY KEY,
    unit_id TEXT NOT NULL,
    delivery_id INTEGER NOT NULL,
    payload BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_retry INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_status ON deliveries (status);
CREATE INDEX IF NOT EXISTS idx_unit_status ON units (status);
CREATE INDEX IF NOT EXISTS idx_pending_next_retry ON pending_acks (next_retry);
`

// NewSQLiteStore opens or creates the database and ensures the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent actors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *model.Delivery) error {
	var lat, lon any
	if d.Destination != nil {
		lat, lon = d.Destination.Lat, d.Destination.Lon
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO deliveries
        (address, lat, lon, status, assigned_unit_id, failure_reason, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Address, lat, lon, string(d.Status), d.AssignedUnitID, d.FailureReason,
		millis(d.CreatedAt), millis(d.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

func scanDelivery(row interface{ Scan(...any) error }) (model.Delivery, error) {
	var (
		d        model.Delivery
		lat, lon sql.NullFloat64
		status   string
		cr, up   int64
	)
	if err := row.Scan(&d.ID, &d.Address, &lat, &lon, &status, &d.AssignedUnitID, &d.FailureReason, &cr, &up); err != nil {
		return model.Delivery{}, err
	}
	d.Status = model.DeliveryStatus(status)
	if lat.Valid && lon.Valid {
		d.Destination = &model.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	d.CreatedAt = fromMillis(cr)
	d.UpdatedAt = fromMillis(up)
	return d, nil
}

const deliveryCols = `id, address, lat, lon, status, assigned_unit_id, failure_reason, created_at, updated_at`

func (s *SQLiteStore) Delivery(ctx context.Context, id int64) (model.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Delivery{}, corestore.ErrNotFound
	}
	return d, err
}

func (s *SQLiteStore) Deliveries(ctx context.Context) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM deliveries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) UpdateDelivery(ctx context.Context, d model.Delivery, expect model.DeliveryStatus) error {
	var lat, lon any
	if d.Destination != nil {
		lat, lon = d.Destination.Lat, d.Destination.Lon
	}
	res, err := s.db.ExecContext(ctx, `UPDATE deliveries
        SET address = ?, lat = ?, lon = ?, status = ?, assigned_unit_id = ?, failure_reason = ?, updated_at = ?
        WHERE id = ? AND status = ?`,
		d.Address, lat, lon, string(d.Status), d.AssignedUnitID, d.FailureReason,
		millis(d.UpdatedAt), d.ID, string(expect))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Delivery(ctx, d.ID); err != nil {
			return err
		}
		return corestore.ErrConflict
	}
	return nil
}

func (s *SQLiteStore) PutUnit(ctx context.Context, u model.Unit) error {
	var lat, lon any
	if u.Location != nil {
		lat, lon = u.Location.Lat, u.Location.Lon
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO units
        (unit_id, status, assigned_delivery_id, lat, lon, located_at, last_contact, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(unit_id) DO UPDATE SET
            status = excluded.status,
            assigned_delivery_id = excluded.assigned_delivery_id,
            lat = excluded.lat,
            lon = excluded.lon,
            located_at = excluded.located_at,
            last_contact = excluded.last_contact,
            updated_at = excluded.updated_at`,
		u.ID, string(u.Status), u.AssignedDeliveryID, lat, lon,
		millis(u.LocatedAt), millis(u.LastContact), millis(u.UpdatedAt))
	return err
}

func scanUnit(row interface{ Scan(...any) error }) (model.Unit, error) {
	var (
		u           model.Unit
		lat, lon    sql.NullFloat64
		status      string
		loc, lc, up int64
	)
	if err := row.Scan(&u.ID, &status, &u.AssignedDeliveryID, &lat, &lon, &loc, &lc, &up); err != nil {
		return model.Unit{}, err
	}
	u.Status = model.UnitStatus(status)
	if lat.Valid && lon.Valid {
		u.Location = &model.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	u.LocatedAt = fromMillis(loc)
	u.LastContact = fromMillis(lc)
	u.UpdatedAt = fromMillis(up)
	return u, nil
}

const unitCols = `unit_id, status, assigned_delivery_id, lat, lon, located_at, last_contact, updated_at`

func (s *SQLiteStore) Unit(ctx context.Context, id string) (model.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx,
		`SELECT `+unitCols+` FROM units WHERE unit_id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Unit{}, corestore.ErrNotFound
	}
	return u, err
}

func (s *SQLiteStore) Units(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+unitCols+` FROM units ORDER BY unit_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) UpdateUnit(ctx context.Context, u model.Unit, expect model.UnitStatus) error {
	var lat, lon any
	if u.Location != nil {
		lat, lon = u.Location.Lat, u.Location.Lon
	}
	res, err := s.db.ExecContext(ctx, `UPDATE units
        SET status = ?, assigned_delivery_id = ?, lat = ?, lon = ?, located_at = ?, last_contact = ?, updated_at = ?
        WHERE unit_id = ? AND status = ?`,
		string(u.Status), u.AssignedDeliveryID, lat, lon,
		millis(u.LocatedAt), millis(u.LastContact), millis(u.UpdatedAt),
		u.ID, string(expect))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Unit(ctx, u.ID); err != nil {
			return err
		}
		return corestore.ErrConflict
	}
	return nil
}

func (s *SQLiteStore) PutPendingAck(ctx context.Context, a model.PendingAck) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pending_acks
        (msg_id, unit_id, delivery_id, payload, created_at, attempts, next_retry)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(msg_id) DO UPDATE SET
            attempts = excluded.attempts,
            next_retry = excluded.next_retry`,
		a.MsgID, a.UnitID, a.DeliveryID, a.Payload,
		millis(a.CreatedAt), a.Attempts, millis(a.NextRetry))
	return err
}

func scanPendingAck(row interface{ Scan(...any) error }) (model.PendingAck, error) {
	var (
		a      model.PendingAck
		cr, nr int64
	)
	if err := row.Scan(&a.MsgID, &a.UnitID, &a.DeliveryID, &a.Payload, &cr, &a.Attempts, &nr); err != nil {
		return model.PendingAck{}, err
	}
	a.CreatedAt = fromMillis(cr)
	a.NextRetry = fromMillis(nr)
	return a, nil
}

const ackCols = `msg_id, unit_id, delivery_id, payload, created_at, attempts, next_retry`

func (s *SQLiteStore) PendingAck(ctx context.Context, msgID string) (model.PendingAck, error) {
	a, err := scanPendingAck(s.db.QueryRowContext(ctx,
		`SELECT `+ackCols+` FROM pending_acks WHERE msg_id = ?`, msgID))
	if err == sql.ErrNoRows {
		return model.PendingAck{}, corestore.ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) PendingAcks(ctx context.Context) ([]model.PendingAck, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ackCols+` FROM pending_acks ORDER BY next_retry`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.PendingAck
	for rows.Next() {
		a, err := scanPendingAck(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) DeletePendingAck(ctx context.Context, msgID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_acks WHERE msg_id = ?`, msgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return corestore.ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
