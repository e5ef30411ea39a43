package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	management_address TEXT NOT NULL,
	environment TEXT NOT NULL,
	status TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	capabilities TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	username TEXT NOT NULL,
	encrypted_secret BLOB,
	private_key BLOB,
	public_key_fingerprint TEXT,
	active INTEGER NOT NULL DEFAULT 0,
	rotated_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_active
	ON credentials(device_id, kind) WHERE active = 1;

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	created_by TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	status TEXT NOT NULL,
	device_ids TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	changes TEXT NOT NULL DEFAULT '{}',
	risk_level TEXT NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMP,
	approval_token TEXT NOT NULL UNIQUE,
	approval_token_timestamp TIMESTAMP NOT NULL,
	approval_expires_at TIMESTAMP NOT NULL,
	batch_size INTEGER NOT NULL DEFAULT 0,
	pause_seconds_between_batches INTEGER NOT NULL DEFAULT 0,
	rollback_on_failure INTEGER NOT NULL DEFAULT 1,
	device_statuses TEXT NOT NULL DEFAULT '{}',
	pre_check_results TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	plan_id TEXT REFERENCES plans(id) ON DELETE SET NULL,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	device_ids TEXT NOT NULL DEFAULT '[]',
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	next_run_at TIMESTAMP,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	current_device_id TEXT,
	result_summary TEXT,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_plan ON jobs(plan_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	kind TEXT NOT NULL,
	data BLOB NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_snapshots_device ON snapshots(device_id);

-- device_id and plan_id are deliberately unenforced references: denial
-- events name targets that were never resolved, and audit history must
-- outlive its subjects.
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMP NOT NULL,
	user_sub TEXT NOT NULL,
	user_id TEXT,
	user_email TEXT,
	user_role TEXT,
	device_id TEXT,
	environment TEXT,
	action TEXT NOT NULL,
	tool_name TEXT,
	tool_tier TEXT,
	plan_id TEXT,
	job_id TEXT,
	approver_id TEXT,
	approval_request_id TEXT,
	result TEXT NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}',
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_plan ON audit_events(plan_id);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_events(timestamp);

CREATE TABLE IF NOT EXISTS roles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS permissions (
	id TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	action TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS role_permissions (
	role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
	permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
	PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS users (
	sub TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	role_name TEXT NOT NULL DEFAULT '',
	device_scopes TEXT NOT NULL DEFAULT '[]',
	is_active INTEGER NOT NULL DEFAULT 1,
	last_login_at TIMESTAMP
);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and migrates) a SQLite store at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	// The modernc driver is not safe for concurrent writers on one file
	// without WAL; a single connection serializes access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDevice returns a device by id.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, management_address, environment, status, tags, capabilities
		 FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, util.ErrDeviceNotFound) {
			return nil, &util.DeviceNotFoundError{DeviceID: id}
		}
		return nil, err
	}
	return d, nil
}

// ListDevices returns devices matching the filter, ordered by name.
func (s *SQLiteStore) ListDevices(ctx context.Context, filter DeviceFilter) ([]*model.Device, error) {
	query := `SELECT id, name, management_address, environment, status, tags, capabilities
		 FROM devices WHERE 1=1`
	var args []any
	if filter.Environment != "" {
		query += " AND environment = ?"
		args = append(args, string(filter.Environment))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &util.PersistenceError{Entity: "device", Op: "list", Err: err}
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		if filter.Tag != "" && !d.HasTag(filter.Tag) {
			continue
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// PutDevice inserts or replaces a device record.
func (s *SQLiteStore) PutDevice(ctx context.Context, d *model.Device) error {
	d.Environment = model.Environment(util.NormalizeEnvironment(string(d.Environment)))
	tags, _ := json.Marshal(d.Tags)
	caps, _ := json.Marshal(d.Capabilities)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, management_address, environment, status, tags, capabilities)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			management_address = excluded.management_address,
			environment = excluded.environment,
			status = excluded.status,
			tags = excluded.tags,
			capabilities = excluded.capabilities`,
		d.ID, d.Name, d.ManagementAddress, string(d.Environment), string(d.Status),
		string(tags), string(caps))
	if err != nil {
		return &util.PersistenceError{Entity: "device", Op: "put", Err: err}
	}
	return nil
}

// GetActiveCredential returns the single active credential for a
// device and kind.
func (s *SQLiteStore) GetActiveCredential(ctx context.Context, deviceID string, kind model.CredentialKind) (*model.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, kind, username, encrypted_secret, private_key,
			public_key_fingerprint, active, rotated_at
		 FROM credentials WHERE device_id = ? AND kind = ? AND active = 1`,
		deviceID, string(kind))

	c := &model.Credential{}
	var fingerprint sql.NullString
	var rotatedAt sql.NullTime
	err := row.Scan(&c.ID, &c.DeviceID, &c.Kind, &c.Username, &c.EncryptedSecret,
		&c.PrivateKey, &fingerprint, &c.Active, &rotatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device %s kind %s: %w", deviceID, kind, util.ErrCredentialNotFound)
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "credential", Op: "get", Err: err}
	}
	c.PublicKeyFingerprint = fingerprint.String
	if rotatedAt.Valid {
		t := rotatedAt.Time
		c.RotatedAt = &t
	}
	return c, nil
}

// PutCredential stores a credential, deactivating any previously active
// one for the same (device_id, kind).
func (s *SQLiteStore) PutCredential(ctx context.Context, c *model.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &util.PersistenceError{Entity: "credential", Op: "put", Err: err}
	}
	defer tx.Rollback()

	if c.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE credentials SET active = 0, rotated_at = CURRENT_TIMESTAMP
			 WHERE device_id = ? AND kind = ? AND active = 1`,
			c.DeviceID, string(c.Kind)); err != nil {
			return &util.PersistenceError{Entity: "credential", Op: "rotate", Err: err}
		}
	}

	var rotatedAt any
	if c.RotatedAt != nil {
		rotatedAt = *c.RotatedAt
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (id, device_id, kind, username, encrypted_secret,
			private_key, public_key_fingerprint, active, rotated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeviceID, string(c.Kind), c.Username, c.EncryptedSecret,
		c.PrivateKey, c.PublicKeyFingerprint, c.Active, rotatedAt); err != nil {
		return &util.PersistenceError{Entity: "credential", Op: "put", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &util.PersistenceError{Entity: "credential", Op: "put", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*model.Device, error) {
	d := &model.Device{}
	var tags, caps string
	err := row.Scan(&d.ID, &d.Name, &d.ManagementAddress, &d.Environment, &d.Status, &tags, &caps)
	if err == sql.ErrNoRows {
		return nil, &util.DeviceNotFoundError{DeviceID: ""}
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "device", Op: "get", Err: err}
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, &util.PersistenceError{Entity: "device", Op: "decode tags", Err: err}
	}
	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return nil, &util.PersistenceError{Entity: "device", Op: "decode capabilities", Err: err}
	}
	d.Environment = model.Environment(util.NormalizeEnvironment(string(d.Environment)))
	return d, nil
}
