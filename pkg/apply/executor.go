package apply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/audit"
	"github.com/netwarden/netwarden/pkg/device"
	"github.com/netwarden/netwarden/pkg/health"
	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/plan"
	"github.com/netwarden/netwarden/pkg/rules"
	"github.com/netwarden/netwarden/pkg/store"
	"github.com/netwarden/netwarden/pkg/transport"
	"github.com/netwarden/netwarden/pkg/util"
)

// Dialer resolves an authenticated per-device transport client.
// Satisfied by transport.Factory.
type Dialer interface {
	Dial(ctx context.Context, d *model.Device, kind model.CredentialKind) (transport.Client, error)
}

// Options tunes the executor. Zero values fall back to the service
// defaults.
type Options struct {
	// DeviceTimeout is the total per-device deadline.
	DeviceTimeout time.Duration

	// DefaultBatchSize replaces plan.batch_size when it is 0.
	DefaultBatchSize int

	// DefaultPause replaces plan.pause_seconds_between_batches when it is 0.
	DefaultPause time.Duration

	// MaxAttempts bounds transport-level retries within a device.
	MaxAttempts int

	// CredentialKind selects the transport used to reach devices.
	CredentialKind model.CredentialKind
}

func (o *Options) normalize() {
	if o.DeviceTimeout == 0 {
		o.DeviceTimeout = 5 * time.Minute
	}
	if o.DefaultBatchSize == 0 {
		o.DefaultBatchSize = 5
	}
	if o.DefaultPause == 0 {
		o.DefaultPause = 60 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.CredentialKind == "" {
		o.CredentialKind = model.CredentialREST
	}
}

// DeviceResult is the per-device outcome surfaced to the caller.
type DeviceResult struct {
	DeviceID string                    `json:"device_id"`
	Status   model.DeviceOutcomeStatus `json:"status"`
	Error    string                    `json:"error,omitempty"`
	Rollback bool                      `json:"rollback,omitempty"`
}

// Result is the outcome of one plan apply.
type Result struct {
	PlanID          string           `json:"plan_id"`
	JobID           string           `json:"job_id"`
	FinalStatus     model.PlanStatus `json:"final_status"`
	SuccessfulCount int              `json:"successful_count"`
	FailedCount     int              `json:"failed_count"`
	DeviceResults   []DeviceResult   `json:"device_results"`
	AuditErrors     []string         `json:"audit_errors,omitempty"`
}

// Executor applies plans device by device: snapshot, mutate, health
// check, rollback on failure. Batches of plan.batch_size run
// concurrently; batches are separated by a timed pause.
type Executor struct {
	store    store.Store
	plans    *plan.Service
	registry *device.Registry
	dialer   Dialer
	sink     audit.Sink
	lock     *DeviceLock
	opts     Options

	// pause is replaced in tests to avoid real sleeps.
	pause func(ctx context.Context, d time.Duration)

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewExecutor creates an apply executor. lock may be nil to disable the
// advisory device lock.
func NewExecutor(s store.Store, plans *plan.Service, registry *device.Registry, dialer Dialer, sink audit.Sink, lock *DeviceLock, opts Options) *Executor {
	opts.normalize()
	return &Executor{
		store:     s,
		plans:     plans,
		registry:  registry,
		dialer:    dialer,
		sink:      sink,
		lock:      lock,
		opts:      opts,
		pause:     sleepCtx,
		cancelled: map[string]bool{},
	}
}

// WithPause overrides the inter-batch pause, for tests.
func (e *Executor) WithPause(pause func(ctx context.Context, d time.Duration)) *Executor {
	e.pause = pause
	return e
}

// Cancel requests cancellation of a running apply. The plan moves to
// cancelled at the next batch boundary; in-flight devices run to their
// next terminal step.
func (e *Executor) Cancel(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[planID] = true
}

func (e *Executor) isCancelled(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[planID]
}

func (e *Executor) clearCancel(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancelled, planID)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run validates the presented approval token, transitions the plan to
// executing and applies it to every target device. The returned error
// covers pre-flight failures only; per-device failures are reported in
// the Result and the plan's terminal status.
func (e *Executor) Run(ctx context.Context, planID, presentedToken, actor string) (*Result, error) {
	p, err := e.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PlanPending && p.Status != model.PlanApproved {
		return nil, &util.TransitionError{PlanID: planID, From: string(p.Status), To: string(model.PlanExecuting)}
	}
	if err := e.plans.ValidateToken(p, presentedToken); err != nil {
		return nil, err
	}

	spec, err := rules.Get(p.Changes.Family)
	if err != nil {
		return nil, err
	}

	if p, err = e.plans.UpdateStatus(ctx, planID, model.PlanExecuting, actor); err != nil {
		return nil, err
	}
	defer e.clearCancel(planID)

	job := &model.Job{
		ID:          uuid.NewString(),
		PlanID:      p.ID,
		JobType:     "plan.apply",
		Status:      model.JobRunning,
		DeviceIDs:   p.DeviceIDs,
		MaxAttempts: e.opts.MaxAttempts,
		CreatedAt:   e.plans.Now(),
		UpdatedAt:   e.plans.Now(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = e.opts.DefaultBatchSize
	}
	pause := time.Duration(p.PauseSecondsBetweenBatches) * time.Second
	if pause <= 0 {
		pause = e.opts.DefaultPause
	}

	res := &Result{PlanID: p.ID, JobID: job.ID}
	outcomes := make(map[string]model.DeviceOutcome, len(p.DeviceIDs))
	done := 0
	total := len(p.DeviceIDs)
	cancelled := false

	for start := 0; start < total; start += batchSize {
		if ctx.Err() != nil || e.isCancelled(planID) {
			cancelled = true
			break
		}
		if start > 0 {
			e.pause(ctx, pause)
			// Re-check after the pause so cancellation lands on the
			// batch boundary, not one batch late.
			if ctx.Err() != nil || e.isCancelled(planID) {
				cancelled = true
				break
			}
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		batch := p.DeviceIDs[start:end]

		type deviceDone struct {
			deviceID string
			outcome  model.DeviceOutcome
		}
		results := make(chan deviceDone, len(batch))
		var wg sync.WaitGroup
		for _, deviceID := range batch {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				results <- deviceDone{deviceID: id, outcome: e.applyDevice(ctx, p, spec, id)}
			}(deviceID)
		}
		wg.Wait()
		close(results)

		// A single writer per plan persists outcomes, advances the job
		// and emits audit events, keeping them totally ordered.
		for r := range results {
			outcomes[r.deviceID] = r.outcome
			done++
			if err := e.store.SetDeviceOutcome(ctx, p.ID, r.deviceID, r.outcome); err != nil {
				util.WithPlan(p.ID).WithField("device", r.deviceID).Errorf("recording device outcome: %v", err)
			}
			if err := e.store.UpdateJobProgress(ctx, job.ID, 100*done/total, r.deviceID); err != nil {
				util.WithPlan(p.ID).Warnf("updating job progress: %v", err)
			}
			if err := e.auditDevice(ctx, p, job.ID, actor, r.deviceID, r.outcome); err != nil {
				res.AuditErrors = append(res.AuditErrors, err.Error())
			}
		}
	}

	for _, deviceID := range p.DeviceIDs {
		if _, ok := outcomes[deviceID]; !ok {
			outcomes[deviceID] = model.DeviceOutcome{Status: model.DeviceSkipped}
			if err := e.store.SetDeviceOutcome(ctx, p.ID, deviceID, outcomes[deviceID]); err != nil {
				util.WithPlan(p.ID).WithField("device", deviceID).Errorf("recording skipped outcome: %v", err)
			}
		}
	}

	final := terminalStatus(outcomes, cancelled)
	if _, err := e.plans.UpdateStatus(ctx, p.ID, final, actor); err != nil {
		util.WithPlan(p.ID).Errorf("recording terminal status %s: %v", final, err)
	}

	res.FinalStatus = final
	for _, deviceID := range p.DeviceIDs {
		o := outcomes[deviceID]
		res.DeviceResults = append(res.DeviceResults, DeviceResult{
			DeviceID: deviceID,
			Status:   o.Status,
			Error:    o.Error,
			Rollback: o.Rollback,
		})
		if o.Status == model.DeviceCompleted {
			res.SuccessfulCount++
		} else {
			res.FailedCount++
		}
	}

	summary := map[string]any{
		"final_status":     string(final),
		"successful_count": res.SuccessfulCount,
		"failed_count":     res.FailedCount,
	}
	if len(res.AuditErrors) > 0 {
		summary["audit_errors"] = res.AuditErrors
	}
	jobStatus := model.JobCompleted
	var jobErr string
	if final != model.PlanCompleted {
		jobStatus = model.JobFailed
		jobErr = fmt.Sprintf("plan %s", final)
	}
	if err := e.store.FinishJob(ctx, job.ID, jobStatus, summary, jobErr); err != nil {
		util.WithPlan(p.ID).Errorf("finishing job: %v", err)
	}

	return res, nil
}

// terminalStatus rolls per-device outcomes up to the plan's terminal
// status. A failed rollback forces failed; otherwise any rollback wins
// over plain failures.
func terminalStatus(outcomes map[string]model.DeviceOutcome, cancelled bool) model.PlanStatus {
	var anyRolledBack, anyFailed bool
	for _, o := range outcomes {
		switch o.Status {
		case model.DeviceRollbackFailed:
			return model.PlanFailed
		case model.DeviceRolledBack:
			anyRolledBack = true
		case model.DeviceFailed:
			anyFailed = true
		}
	}
	if anyRolledBack {
		return model.PlanRolledBack
	}
	if anyFailed {
		return model.PlanFailed
	}
	if cancelled {
		return model.PlanCancelled
	}
	return model.PlanCompleted
}

func (e *Executor) auditDevice(ctx context.Context, p *model.Plan, jobID, actor, deviceID string, o model.DeviceOutcome) error {
	var action string
	b := audit.Event(actor, "").Plan(p.ID).Job(jobID).DeviceID(deviceID).Tool(p.ToolName, "")
	switch o.Status {
	case model.DeviceCompleted:
		action = model.ActionApplyDeviceSucceeded
	case model.DeviceRolledBack:
		action = model.ActionApplyDeviceRolled
		b.Failed(errors.New(o.Error))
	case model.DeviceSkipped:
		action = model.ActionApplyDeviceFailed
		b.Failed(errors.New("skipped: apply cancelled"))
	default:
		action = model.ActionApplyDeviceFailed
		b.Failed(errors.New(o.Error))
	}
	event := b.Build()
	event.Action = action
	if o.Status == model.DeviceRollbackFailed {
		event.Meta = map[string]string{"rollback_failed": "true", "snapshot_id": o.SnapshotID}
	}
	return audit.Record(ctx, e.sink, event)
}

// applyDevice runs the atomic per-device protocol: lock, transport,
// snapshot, mutate, health check, rollback on failure.
func (e *Executor) applyDevice(ctx context.Context, p *model.Plan, spec *rules.Spec, deviceID string) model.DeviceOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DeviceTimeout)
	defer cancel()

	log := util.WithPlan(p.ID).WithField("device", deviceID)
	outcome := model.DeviceOutcome{Status: model.DeviceApplying}

	d, err := e.registry.Get(ctx, deviceID)
	if err != nil {
		outcome.Status = model.DeviceFailed
		outcome.Error = err.Error()
		return outcome
	}

	// Advisory only: a busy device is logged, not skipped.
	if err := e.lock.Acquire(ctx, deviceID, p.ID); err != nil {
		if errors.Is(err, util.ErrLockBusy) {
			log.Warnf("%v", err)
		}
	} else {
		defer e.lock.Release(context.WithoutCancel(ctx), deviceID, p.ID)
	}

	var client transport.Client
	err = e.withRetry(ctx, &outcome.Attempts, func() error {
		var dialErr error
		client, dialErr = e.dialer.Dial(ctx, d, e.opts.CredentialKind)
		return dialErr
	})
	if err != nil {
		outcome.Status = model.DeviceFailed
		outcome.Error = err.Error()
		return outcome
	}
	defer client.Close()

	// Snapshot before any mutation; without it there is nothing to roll
	// back to.
	var before []map[string]any
	err = e.withRetry(ctx, &outcome.Attempts, func() error {
		var getErr error
		before, getErr = client.Get(ctx, spec.Path)
		return getErr
	})
	if err != nil {
		outcome.Status = model.DeviceFailed
		outcome.Error = err.Error()
		return outcome
	}

	snap, err := e.saveSnapshot(ctx, p, spec, deviceID, before)
	if err != nil {
		outcome.Status = model.DeviceFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.SnapshotID = snap.ID
	log.Infof("snapshot %s of %s (%d entries)", snap.ID, spec.Path, len(before))

	mutErr := e.mutate(ctx, p, spec, client, before, &outcome)
	if mutErr == nil {
		checker := health.NewChecker(spec.Path)
		if _, healthErr := checker.Run(ctx, deviceID, client); healthErr != nil {
			mutErr = healthErr
		}
	}

	if mutErr != nil {
		outcome.Error = mutErr.Error()
		if !p.RollbackOnFailure {
			outcome.Status = model.DeviceFailed
			return outcome
		}
		if rbErr := e.rollback(ctx, p, spec, client, before, &outcome); rbErr != nil {
			log.Errorf("rollback failed: %v", rbErr)
			outcome.Status = model.DeviceRollbackFailed
			outcome.Error = (&util.RollbackError{DeviceID: deviceID, SnapshotID: snap.ID, Err: rbErr}).Error()
			return outcome
		}
		outcome.Status = model.DeviceRolledBack
		outcome.Rollback = true
		log.Warnf("rolled back after failure: %v", mutErr)
		return outcome
	}

	outcome.Status = model.DeviceCompleted
	return outcome
}

func (e *Executor) saveSnapshot(ctx context.Context, p *model.Plan, spec *rules.Spec, deviceID string, before []map[string]any) (*model.Snapshot, error) {
	data, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	snap := &model.Snapshot{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Timestamp: e.plans.Now(),
		Kind:      spec.Path,
		Data:      data,
		Meta: map[string]string{
			"plan_id": p.ID,
			"entries": fmt.Sprintf("%d", len(before)),
		},
	}
	if err := e.store.PutSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// mutate issues the planned RPC, capturing created ids and the prior
// field values needed by the inverse operation.
func (e *Executor) mutate(ctx context.Context, p *model.Plan, spec *rules.Spec, client transport.Client, before []map[string]any, outcome *model.DeviceOutcome) error {
	params := p.Changes.Params
	switch p.Changes.Operation {
	case model.OpAdd:
		var created map[string]any
		err := e.withRetry(ctx, &outcome.Attempts, func() error {
			var postErr error
			created, postErr = client.Post(ctx, spec.Path, spec.Body(params))
			return postErr
		})
		if err != nil {
			return err
		}
		if id := objectID(created); id != "" {
			outcome.CreatedIDs = append(outcome.CreatedIDs, id)
		}
		return nil

	case model.OpModify:
		targetID := params["target_id"]
		if findObject(before, targetID) == nil {
			return &transport.Error{Op: "PATCH", Path: spec.Path, Status: 404,
				Err: fmt.Errorf("object %s not present in snapshot", targetID)}
		}
		return e.withRetry(ctx, &outcome.Attempts, func() error {
			_, patchErr := client.Patch(ctx, spec.Path, targetID, spec.Body(withoutTargetID(params)))
			return patchErr
		})

	case model.OpRemove:
		targetID := params["target_id"]
		if findObject(before, targetID) == nil {
			return &transport.Error{Op: "DELETE", Path: spec.Path, Status: 404,
				Err: fmt.Errorf("object %s not present in snapshot", targetID)}
		}
		return e.withRetry(ctx, &outcome.Attempts, func() error {
			return client.Delete(ctx, spec.Path, targetID)
		})
	}
	return fmt.Errorf("unknown operation %q", p.Changes.Operation)
}

// rollback replays the inverse operation from the snapshot: delete what
// an add created, restore the fields a modify changed, re-create what a
// remove deleted.
func (e *Executor) rollback(ctx context.Context, p *model.Plan, spec *rules.Spec, client transport.Client, before []map[string]any, outcome *model.DeviceOutcome) error {
	params := p.Changes.Params
	switch p.Changes.Operation {
	case model.OpAdd:
		for _, id := range outcome.CreatedIDs {
			if err := client.Delete(ctx, spec.Path, id); err != nil {
				return err
			}
		}
		return nil

	case model.OpModify:
		targetID := params["target_id"]
		prior := findObject(before, targetID)
		if prior == nil {
			return fmt.Errorf("object %s not in snapshot", targetID)
		}
		restore := map[string]any{}
		for key := range spec.Body(withoutTargetID(params)) {
			if v, ok := prior[key]; ok {
				restore[key] = v
			} else {
				restore[key] = ""
			}
		}
		_, err := client.Patch(ctx, spec.Path, targetID, restore)
		return err

	case model.OpRemove:
		targetID := params["target_id"]
		prior := findObject(before, targetID)
		if prior == nil {
			return fmt.Errorf("object %s not in snapshot", targetID)
		}
		recreate := make(map[string]any, len(prior))
		for k, v := range prior {
			if k == ".id" {
				continue
			}
			recreate[k] = v
		}
		_, err := client.Post(ctx, spec.Path, recreate)
		return err
	}
	return fmt.Errorf("unknown operation %q", p.Changes.Operation)
}

// withRetry retries fn on retryable transport errors, up to MaxAttempts
// tries. attempts records the highest try count of any step on the
// device, so it never exceeds MaxAttempts.
func (e *Executor) withRetry(ctx context.Context, attempts *int, fn func() error) error {
	var err error
	for try := 1; ; try++ {
		if try > *attempts {
			*attempts = try
		}
		if err = fn(); err == nil {
			return nil
		}
		if !transport.IsRetryable(err) || try >= e.opts.MaxAttempts || ctx.Err() != nil {
			return err
		}
	}
}

func objectID(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	if id, ok := obj[".id"].(string); ok {
		return id
	}
	if id, ok := obj["id"].(string); ok {
		return id
	}
	return ""
}

func findObject(objs []map[string]any, id string) map[string]any {
	for _, o := range objs {
		if objectID(o) == id {
			return o
		}
	}
	return nil
}

func withoutTargetID(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k == "target_id" {
			continue
		}
		out[k] = v
	}
	return out
}
