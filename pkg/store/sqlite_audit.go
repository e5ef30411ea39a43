package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

// AppendAudit writes one audit event. Rows are never updated or deleted.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	meta, _ := json.Marshal(e.Meta)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, user_sub, user_id, user_email,
			user_role, device_id, environment, action, tool_name, tool_tier,
			plan_id, job_id, approver_id, approval_request_id, result, meta,
			error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.UserSub, nullIfEmpty(e.UserID), nullIfEmpty(e.UserEmail),
		nullIfEmpty(e.UserRole), nullIfEmpty(e.DeviceID), nullIfEmpty(e.Environment),
		e.Action, nullIfEmpty(e.ToolName), nullIfEmpty(e.ToolTier),
		nullIfEmpty(e.PlanID), nullIfEmpty(e.JobID), nullIfEmpty(e.ApproverID),
		nullIfEmpty(e.ApprovalRequestID), string(e.Result), string(meta),
		nullIfEmpty(e.ErrorMessage))
	if err != nil {
		return &util.PersistenceError{Entity: "audit", Op: "append", Err: err}
	}
	return nil
}

// QueryAudit returns events matching the filter, oldest first.
func (s *SQLiteStore) QueryAudit(ctx context.Context, filter AuditFilter) ([]*model.AuditEvent, error) {
	query := `SELECT id, timestamp, user_sub, user_id, user_email, user_role,
		device_id, environment, action, tool_name, tool_tier, plan_id, job_id,
		approver_id, approval_request_id, result, meta, error_message
		FROM audit_events WHERE 1=1`
	var args []any
	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	if filter.UserSub != "" {
		query += " AND user_sub = ?"
		args = append(args, filter.UserSub)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}
	if filter.Result != "" {
		query += " AND result = ?"
		args = append(args, string(filter.Result))
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime)
	}
	query += " ORDER BY timestamp"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &util.PersistenceError{Entity: "audit", Op: "query", Err: err}
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		e := &model.AuditEvent{}
		var userID, userEmail, userRole, deviceID, environment, toolName,
			toolTier, planID, jobID, approverID, approvalReqID, errMsg sql.NullString
		var meta string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserSub, &userID, &userEmail,
			&userRole, &deviceID, &environment, &e.Action, &toolName, &toolTier,
			&planID, &jobID, &approverID, &approvalReqID, &e.Result, &meta,
			&errMsg); err != nil {
			return nil, &util.PersistenceError{Entity: "audit", Op: "scan", Err: err}
		}
		e.UserID = userID.String
		e.UserEmail = userEmail.String
		e.UserRole = userRole.String
		e.DeviceID = deviceID.String
		e.Environment = environment.String
		e.ToolName = toolName.String
		e.ToolTier = toolTier.String
		e.PlanID = planID.String
		e.JobID = jobID.String
		e.ApproverID = approverID.String
		e.ApprovalRequestID = approvalReqID.String
		e.ErrorMessage = errMsg.String
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return nil, &util.PersistenceError{Entity: "audit", Op: "decode meta", Err: err}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetUser returns a user by OIDC subject.
func (s *SQLiteStore) GetUser(ctx context.Context, sub string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sub, email, display_name, role_name, device_scopes, is_active, last_login_at
		 FROM users WHERE sub = ?`, sub)

	u := &model.User{}
	var scopes string
	var lastLogin sql.NullTime
	err := row.Scan(&u.Sub, &u.Email, &u.DisplayName, &u.RoleName, &scopes, &u.IsActive, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "user", Op: "get", Err: err}
	}
	if err := json.Unmarshal([]byte(scopes), &u.DeviceScopes); err != nil {
		return nil, &util.PersistenceError{Entity: "user", Op: "decode device_scopes", Err: err}
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

// PutUser inserts or replaces a user record.
func (s *SQLiteStore) PutUser(ctx context.Context, u *model.User) error {
	scopes, _ := json.Marshal(u.DeviceScopes)
	var lastLogin any
	if u.LastLoginAt != nil {
		lastLogin = *u.LastLoginAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (sub, email, display_name, role_name, device_scopes, is_active, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sub) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			role_name = excluded.role_name,
			device_scopes = excluded.device_scopes,
			is_active = excluded.is_active,
			last_login_at = excluded.last_login_at`,
		u.Sub, u.Email, u.DisplayName, u.RoleName, string(scopes), u.IsActive, lastLogin)
	if err != nil {
		return &util.PersistenceError{Entity: "user", Op: "put", Err: err}
	}
	return nil
}

// GetRoleByName returns a role by its unique name.
func (s *SQLiteStore) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE name = ?`, name)
	r := &model.Role{}
	err := row.Scan(&r.ID, &r.Name)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "role", Op: "get", Err: err}
	}
	return r, nil
}

// PutRole inserts a role if it does not exist.
func (s *SQLiteStore) PutRole(ctx context.Context, r *model.Role) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, r.ID, r.Name)
	if err != nil {
		return &util.PersistenceError{Entity: "role", Op: "put", Err: err}
	}
	return nil
}

// PermissionsForRole expands a role to its permission rows.
func (s *SQLiteStore) PermissionsForRole(ctx context.Context, roleID string) ([]model.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.resource_type, p.resource_id, p.action
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = ?`, roleID)
	if err != nil {
		return nil, &util.PersistenceError{Entity: "permission", Op: "list", Err: err}
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.ID, &p.ResourceType, &p.ResourceID, &p.Action); err != nil {
			return nil, &util.PersistenceError{Entity: "permission", Op: "scan", Err: err}
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GrantPermission creates a permission row and links it to the role.
func (s *SQLiteStore) GrantPermission(ctx context.Context, roleID string, p model.Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &util.PersistenceError{Entity: "permission", Op: "grant", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO permissions (id, resource_type, resource_id, action)
		 VALUES (?, ?, ?, ?)`, p.ID, p.ResourceType, p.ResourceID, p.Action); err != nil {
		return &util.PersistenceError{Entity: "permission", Op: "grant", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)`,
		roleID, p.ID); err != nil {
		return &util.PersistenceError{Entity: "permission", Op: "grant", Err: err}
	}
	return tx.Commit()
}
