package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/util"
)

// CreatePlan persists a new plan row. The approval token uniqueness
// constraint guarantees a token is never reused across plans.
func (s *SQLiteStore) CreatePlan(ctx context.Context, p *model.Plan) error {
	deviceIDs, _ := json.Marshal(p.DeviceIDs)
	changes, _ := json.Marshal(p.Changes)
	statuses, _ := json.Marshal(p.DeviceStatuses)
	preChecks, _ := json.Marshal(p.PreCheckResults)

	var approvedAt any
	if p.ApprovedAt != nil {
		approvedAt = *p.ApprovedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, created_by, tool_name, status, device_ids, summary,
			changes, risk_level, approved_by, approved_at, approval_token,
			approval_token_timestamp, approval_expires_at, batch_size,
			pause_seconds_between_batches, rollback_on_failure, device_statuses,
			pre_check_results, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CreatedBy, p.ToolName, string(p.Status), string(deviceIDs), p.Summary,
		string(changes), string(p.RiskLevel), p.ApprovedBy, approvedAt, p.ApprovalToken,
		p.ApprovalTokenTimestamp, p.ApprovalExpiresAt, p.BatchSize,
		p.PauseSecondsBetweenBatches, p.RollbackOnFailure, string(statuses),
		string(preChecks), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "create", Err: err}
	}
	return nil
}

// GetPlan returns the full plan record.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_by, tool_name, status, device_ids, summary, changes,
			risk_level, approved_by, approved_at, approval_token,
			approval_token_timestamp, approval_expires_at, batch_size,
			pause_seconds_between_batches, rollback_on_failure, device_statuses,
			pre_check_results, created_at, updated_at
		 FROM plans WHERE id = ?`, id)

	p := &model.Plan{}
	var deviceIDs, changes, statuses, preChecks string
	var approvedBy sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&p.ID, &p.CreatedBy, &p.ToolName, &p.Status, &deviceIDs, &p.Summary,
		&changes, &p.RiskLevel, &approvedBy, &approvedAt, &p.ApprovalToken,
		&p.ApprovalTokenTimestamp, &p.ApprovalExpiresAt, &p.BatchSize,
		&p.PauseSecondsBetweenBatches, &p.RollbackOnFailure, &statuses,
		&preChecks, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "plan", Op: "get", Err: err}
	}

	p.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		p.ApprovedAt = &t
	}
	if err := json.Unmarshal([]byte(deviceIDs), &p.DeviceIDs); err != nil {
		return nil, &util.PersistenceError{Entity: "plan", Op: "decode device_ids", Err: err}
	}
	if err := json.Unmarshal([]byte(changes), &p.Changes); err != nil {
		return nil, &util.PersistenceError{Entity: "plan", Op: "decode changes", Err: err}
	}
	if err := json.Unmarshal([]byte(statuses), &p.DeviceStatuses); err != nil {
		return nil, &util.PersistenceError{Entity: "plan", Op: "decode device_statuses", Err: err}
	}
	if err := json.Unmarshal([]byte(preChecks), &p.PreCheckResults); err != nil {
		return nil, &util.PersistenceError{Entity: "plan", Op: "decode pre_check_results", Err: err}
	}
	return p, nil
}

// UpdatePlanStatus transitions a plan from -> to with an optimistic
// pre-image check on the stored status.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, id string, from, to model.PlanStatus, approvedBy string, approvedAt *time.Time) error {
	var res sql.Result
	var err error
	if approvedBy != "" {
		var at any
		if approvedAt != nil {
			at = *approvedAt
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, approved_by = ?, approved_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			string(to), approvedBy, at, id, string(from))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE plans SET status = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	if err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "update status", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "update status", Err: err}
	}
	if n == 0 {
		// Either the plan is gone or the pre-image check failed.
		current, getErr := s.GetPlan(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &util.TransitionError{PlanID: id, From: string(current.Status), To: string(to)}
	}
	return nil
}

// SetDeviceOutcome merges one device outcome into the plan's
// device_statuses map.
func (s *SQLiteStore) SetDeviceOutcome(ctx context.Context, planID, deviceID string, outcome model.DeviceOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "set device outcome", Err: err}
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx,
		`SELECT device_statuses FROM plans WHERE id = ?`, planID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return util.ErrNotFound
		}
		return &util.PersistenceError{Entity: "plan", Op: "set device outcome", Err: err}
	}

	statuses := map[string]model.DeviceOutcome{}
	if err := json.Unmarshal([]byte(raw), &statuses); err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "decode device_statuses", Err: err}
	}
	statuses[deviceID] = outcome
	updated, _ := json.Marshal(statuses)

	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET device_statuses = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(updated), planID); err != nil {
		return &util.PersistenceError{Entity: "plan", Op: "set device outcome", Err: err}
	}
	return tx.Commit()
}

// CreateJob persists a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	deviceIDs, _ := json.Marshal(j.DeviceIDs)
	var nextRunAt any
	if j.NextRunAt != nil {
		nextRunAt = *j.NextRunAt
	}
	var summary any
	if j.ResultSummary != nil {
		b, _ := json.Marshal(j.ResultSummary)
		summary = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, plan_id, job_type, status, device_ids, attempts,
			max_attempts, next_run_at, progress_percent, current_device_id,
			result_summary, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, nullIfEmpty(j.PlanID), j.JobType, string(j.Status), string(deviceIDs),
		j.Attempts, j.MaxAttempts, nextRunAt, j.ProgressPercent,
		nullIfEmpty(j.CurrentDeviceID), summary, nullIfEmpty(j.ErrorMessage),
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return &util.PersistenceError{Entity: "job", Op: "create", Err: err}
	}
	return nil
}

// GetJob returns a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, job_type, status, device_ids, attempts, max_attempts,
			next_run_at, progress_percent, current_device_id, result_summary,
			error_message, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	j := &model.Job{}
	var planID, currentDevice, summary, errMsg sql.NullString
	var nextRunAt sql.NullTime
	var deviceIDs string
	err := row.Scan(&j.ID, &planID, &j.JobType, &j.Status, &deviceIDs, &j.Attempts,
		&j.MaxAttempts, &nextRunAt, &j.ProgressPercent, &currentDevice, &summary,
		&errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "job", Op: "get", Err: err}
	}

	j.PlanID = planID.String
	j.CurrentDeviceID = currentDevice.String
	j.ErrorMessage = errMsg.String
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	if err := json.Unmarshal([]byte(deviceIDs), &j.DeviceIDs); err != nil {
		return nil, &util.PersistenceError{Entity: "job", Op: "decode device_ids", Err: err}
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &j.ResultSummary); err != nil {
			return nil, &util.PersistenceError{Entity: "job", Op: "decode result_summary", Err: err}
		}
	}
	return j, nil
}

// UpdateJobProgress advances a job's progress. progress_percent never
// decreases; MAX() enforces monotonicity at the SQL level.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress int, currentDeviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress_percent = MAX(progress_percent, ?),
			current_device_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		progress, nullIfEmpty(currentDeviceID), string(model.JobRunning), id)
	if err != nil {
		return &util.PersistenceError{Entity: "job", Op: "update progress", Err: err}
	}
	return nil
}

// FinishJob records a job's terminal state and result summary.
func (s *SQLiteStore) FinishJob(ctx context.Context, id string, status model.JobStatus, summary map[string]any, errMsg string) error {
	var summaryJSON any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return &util.PersistenceError{Entity: "job", Op: "encode result_summary", Err: err}
		}
		summaryJSON = string(b)
	}
	progress := 0
	if status == model.JobCompleted {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result_summary = ?, error_message = ?,
			progress_percent = MAX(progress_percent, ?), current_device_id = NULL,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(status), summaryJSON, nullIfEmpty(errMsg), progress, id)
	if err != nil {
		return &util.PersistenceError{Entity: "job", Op: "finish", Err: err}
	}
	return nil
}

// PutSnapshot persists a snapshot blob with its metadata.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	meta, _ := json.Marshal(snap.Meta)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, device_id, timestamp, kind, data, meta)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.DeviceID, snap.Timestamp, snap.Kind, snap.Data, string(meta))
	if err != nil {
		return &util.PersistenceError{Entity: "snapshot", Op: "put", Err: err}
	}
	return nil
}

// GetSnapshot returns a snapshot by id.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, timestamp, kind, data, meta FROM snapshots WHERE id = ?`, id)

	snap := &model.Snapshot{}
	var meta string
	err := row.Scan(&snap.ID, &snap.DeviceID, &snap.Timestamp, &snap.Kind, &snap.Data, &meta)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, &util.PersistenceError{Entity: "snapshot", Op: "get", Err: err}
	}
	if err := json.Unmarshal([]byte(meta), &snap.Meta); err != nil {
		return nil, &util.PersistenceError{Entity: "snapshot", Op: "decode meta", Err: err}
	}
	return snap, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
