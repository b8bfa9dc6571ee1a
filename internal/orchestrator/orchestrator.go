// Package orchestrator drives the dispatch loop (C6): one coordinator
// goroutine walks an ExecutionPlan phase by phase, fanning each phase's
// items out to a bounded pool of agent workers, aggregating progress,
// and checkpointing between phases. Grounded on
// internal/campaign/orchestrator_types.go's Orchestrator struct shape
// (mutex-guarded state, progressChan/eventChan, isRunning/isPaused,
// cancelFunc) and orchestrator_phases.go's emitEvent/phase-transition
// rhythm; the Mangle-backed eligibility queries those files perform are
// replaced by a direct call into internal/planner, per SPEC_FULL.md §4.5.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"spectree/internal/agentcli"
	"spectree/internal/agentsession"
	"spectree/internal/checkpoint"
	"spectree/internal/errkind"
	"spectree/internal/logging"
	"spectree/internal/planner"
	"spectree/internal/planning"
	"spectree/internal/retry"
	"spectree/internal/statusbus"
	"spectree/internal/worktype"
)

// RunConfig is the library entry point's configuration, matching
// codenerd's OrchestratorConfig field-for-field where the concepts carry
// over (MaxParallelTasks -> MaxAgents, RetryBackoffBase/Max -> retry
// profile, CheckpointOnFail -> always-on here since resumability is this
// core's whole point).
type RunConfig struct {
	EpicID        string
	Items         []worktype.WorkItem // pre-fetched plan input; if nil, fetched via Planning
	Planning      *planning.Client
	AgentOptions  agentcli.Options
	MaxAgents     int
	Cwd           string
	BaseBranch    string
	OnItemFailure worktype.FailurePolicy // default applied to items that don't set their own FailurePolicy
	CheckpointDir string
	Resume        bool
	Bus           *statusbus.Bus
	Logger        *zap.Logger
	ItemTimeout   time.Duration
	RetryProfile  retry.Profile
}

func (c *RunConfig) withDefaults() {
	if c.MaxAgents <= 0 {
		c.MaxAgents = 1
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Bus == nil {
		c.Bus = statusbus.New()
	}
	if c.RetryProfile == (retry.Profile{}) {
		c.RetryProfile = retry.DefaultProfile
	}
	if c.OnItemFailure == "" {
		c.OnItemFailure = worktype.ContinueOnErr
	}
}

// RunResult is returned once the plan is exhausted, cancelled, or a
// run-fatal error stops execution early.
type RunResult struct {
	EpicID    string
	Plan      worktype.ExecutionPlan
	Completed []string
	Failed    []string
	Skipped   []string
	Err       error
}

// Orchestrator owns one in-flight run.
type Orchestrator struct {
	cfg   RunConfig
	plan  worktype.ExecutionPlan
	cp    *checkpoint.Manager
	audit *logging.AuditLogger

	mu        sync.RWMutex
	items     map[string]*worktype.WorkItem
	agents    map[string]*worktype.Agent
	attempts  []worktype.RetryAttempt
	isPaused  bool
	resumeCh  chan struct{}
	cancel    context.CancelFunc
	startedAt time.Time
}

// Run builds the execution plan and drives it to completion, matching
// spec.md §6's library surface: orchestrator.Run(ctx, RunConfig) -> RunResult.
// It is a thin convenience wrapper around New(cfg).Run(ctx) for callers
// that never need to Pause/Resume/Cancel mid-flight.
func Run(ctx context.Context, cfg RunConfig) RunResult {
	return New(cfg).Run(ctx)
}

// New builds an Orchestrator without starting it, so a caller (the CLI's
// interactive view, in particular) can hold a handle for Pause/Resume/
// Cancel while Run executes, typically in its own goroutine.
func New(cfg RunConfig) *Orchestrator {
	cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		cp:       checkpoint.New(cfg.CheckpointDir),
		audit:    logging.ForEpic(cfg.EpicID),
		items:    map[string]*worktype.WorkItem{},
		agents:   map[string]*worktype.Agent{},
		resumeCh: make(chan struct{}),
	}
	close(o.resumeCh) // not paused initially; Pause() re-arms it and Resume() closes it
	return o
}

// Bus returns the statusbus this orchestrator publishes to, for callers
// that built it via New and want to subscribe before calling Run.
func (o *Orchestrator) Bus() *statusbus.Bus {
	return o.cfg.Bus
}

// Run drives o's plan to completion. Safe to call at most once per
// Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) RunResult {
	cfg := o.cfg
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.startedAt = time.Now()
	defer cancel()

	items, err := o.resolveItems(runCtx)
	if err != nil {
		return RunResult{EpicID: cfg.EpicID, Err: err}
	}
	for i := range items {
		it := items[i]
		o.items[it.ID] = &it
	}

	o.plan = planner.Build(cfg.EpicID, items)
	for _, w := range o.plan.Warnings {
		cfg.Logger.Warn("planner warning", zap.String("epicId", cfg.EpicID), zap.String("warning", w))
	}

	startPhase := 0
	skipSet := map[string]bool{}
	if cfg.Resume {
		if state, err := o.cp.Load(cfg.EpicID); err == nil {
			rp := checkpoint.DeriveResumePoint(state)
			startPhase = rp.Phase
			for _, id := range rp.SkipItems {
				skipSet[id] = true
			}
		}
	}

	cfg.Bus.Publish(statusbus.Event{Kind: statusbus.RunStarted, Message: cfg.EpicID})
	o.audit.RunStarted(cfg.EpicID, o.plan.TotalItems())

	result := RunResult{EpicID: cfg.EpicID, Plan: o.plan}
	for phaseIdx := startPhase; phaseIdx < len(o.plan.Phases); phaseIdx++ {
		phase := o.plan.Phases[phaseIdx]
		select {
		case <-runCtx.Done():
			result.Err = errkind.New(errkind.Cancelled, "run cancelled")
			o.saveCheckpointWithError(phaseIdx, result.Err, o.isPausedNow())
			return o.finalize(result)
		default:
		}

		cfg.Bus.Publish(statusbus.Event{Kind: statusbus.PhaseStarted, PhaseID: phaseID(phaseIdx)})
		o.audit.PhaseStarted(phaseID(phaseIdx), len(phase.Items))
		fatal := o.runPhase(runCtx, phase, skipSet, &result)
		cfg.Bus.Publish(statusbus.Event{Kind: statusbus.PhaseCompleted, PhaseID: phaseID(phaseIdx)})
		o.audit.PhaseCompleted(phaseID(phaseIdx))

		if fatal != nil {
			result.Err = fatal
			o.saveCheckpointWithError(phaseIdx+1, fatal, false)
			return o.finalize(result)
		}

		o.saveCheckpoint(phaseIdx + 1)
	}

	return o.finalize(result)
}

func phaseID(i int) string { return "phase-" + strconv.Itoa(i) }

// runPhase dispatches every item in phase concurrently, bounded by
// cfg.MaxAgents, and returns a non-nil error only for a run-fatal
// condition: a FailFast item fails, an item fails with a run_fatal
// errkind.Severity, or ctx ends while waiting for a worker slot; otherwise
// individual item failures are recorded on result and execution continues
// to the next phase.
func (o *Orchestrator) runPhase(ctx context.Context, phase worktype.Phase, skip map[string]bool, result *RunResult) error {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxAgents))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for i := range phase.Items {
		item := phase.Items[i]
		if skip[item.ID] {
			mu.Lock()
			result.Skipped = append(result.Skipped, item.ID)
			mu.Unlock()
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if fatal == nil {
				fatal = errkind.Wrap(errkind.Cancelled, "acquiring worker slot", err)
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(item worktype.WorkItem) {
			defer wg.Done()
			defer sem.Release(1)

			o.waitIfPaused(ctx)

			outcome, itemErr := o.runItem(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case worktype.StatusCompleted:
				result.Completed = append(result.Completed, item.ID)
			case worktype.StatusFailed:
				result.Failed = append(result.Failed, item.ID)
				if itemErr != nil && fatal == nil {
					fatal = itemErr
				}
			case worktype.StatusSkipped:
				result.Skipped = append(result.Skipped, item.ID)
			}
		}(item)
	}

	wg.Wait()
	return fatal
}

// runItem executes a single WorkItem through a fresh agent session,
// applying per-item retry according to its FailurePolicy, and returns its
// terminal status plus a non-nil error only when the run as a whole must
// stop: either the item's failure policy is fail_fast, or the underlying
// error's errkind.Severity is run_fatal regardless of policy (an expired
// credential or a planning outage isn't something retrying the next item
// will fix either).
func (o *Orchestrator) runItem(ctx context.Context, item worktype.WorkItem) (worktype.Status, error) {
	o.setStatus(item.ID, worktype.StatusInProgress)
	o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.AgentStarted, ItemID: item.ID})
	o.audit.AgentSpawned(item.ID, o.cfg.AgentOptions.Binary)
	started := time.Now()

	agentID := item.ID + "-agent"
	o.setAgent(&worktype.Agent{ID: agentID, WorkItem: item.ID, State: worktype.AgentSpawning, StartedAt: started})

	policy := item.FailurePolicy
	if policy == "" {
		policy = o.cfg.OnItemFailure
	}

	profile := o.cfg.RetryProfile
	if policy == worktype.RetryUpTo && item.MaxRetries > 0 {
		profile.MaxRetries = item.MaxRetries
	} else {
		profile.MaxRetries = 0
	}

	o.startWork(ctx, item)

	opts := o.cfg.AgentOptions
	opts.Cwd = firstNonEmpty(item.Cwd, o.cfg.Cwd)
	opts.Env = mergeEnv(o.cfg.AgentOptions.Env, item.Env)

	res, err := retry.DoDetailed(ctx, profile, retry.AlwaysRetry, func(ctx context.Context) (agentsession.Reply, error) {
		o.setAgentState(agentID, worktype.AgentWorking)
		client := agentcli.New(opts)
		sess := agentsession.New(item.ID, client)
		sess.OnEvent = func(evt agentcli.Event) { o.handleAgentEvent(agentID, item.ID, evt) }
		return sess.SendAndWait(ctx, item.Description, o.cfg.ItemTimeout)
	}, retry.WithOnRetry(func(attempt int, delay time.Duration, retryErr error) {
		o.recordRetryAttempt(worktype.RetryAttempt{
			WorkItemID: item.ID,
			Attempt:    attempt + 1,
			At:         time.Now(),
			Error:      errString(retryErr),
			NextDelay:  delay,
		})
		o.audit.ItemRetried(item.ID, attempt+1, delay)
	}))

	if err == nil {
		reply := res.Value
		o.setAgentTerminal(agentID, worktype.AgentCompleted)
		o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.ItemCompleted, ItemID: item.ID, Message: reply.Text})
		o.audit.AgentCompleted(item.ID, time.Since(started))
		o.setStatus(item.ID, worktype.StatusCompleted)
		o.completeWork(ctx, item, reply.Text)
		return worktype.StatusCompleted, nil
	}

	o.setAgentTerminal(agentID, worktype.AgentFailed)
	o.cfg.Logger.Warn("item failed", zap.String("itemId", item.ID), zap.Error(err))
	o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.ItemFailed, ItemID: item.ID, Message: errString(err)})
	o.audit.AgentFailed(item.ID, errString(err))
	o.setStatus(item.ID, worktype.StatusFailed)
	o.updatePlanningStatus(ctx, item.ID, worktype.StatusFailed)

	var fatalErr error
	var ke *errkind.Error
	switch {
	case errors.As(err, &ke) && ke.Severity() == errkind.SeverityRunFatal:
		fatalErr = err
	case policy == worktype.FailFast:
		fatalErr = errkind.New(errkind.AgentExecution, "item "+item.ID+" failed under fail_fast policy")
	}
	return worktype.StatusFailed, fatalErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// mergeEnv overlays per-item env vars onto the run-level overlay, with the
// item's own values winning on key collision.
func mergeEnv(base, item map[string]string) map[string]string {
	if len(base) == 0 && len(item) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(item))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range item {
		merged[k] = v
	}
	return merged
}

func (o *Orchestrator) setAgent(a *worktype.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[a.ID] = a
}

func (o *Orchestrator) setAgentState(id string, state worktype.AgentState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.agents[id]; ok {
		a.State = state
	}
}

func (o *Orchestrator) setAgentTerminal(id string, state worktype.AgentState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.agents[id]; ok {
		a.State = state
		a.EndedAt = time.Now()
	}
}

// handleAgentEvent fans a streaming agentcli.Event out onto the
// statusbus and updates the owning Agent's live activity descriptor, per
// the agent pool's §4.6 role as the orchestrator's in-memory view of what
// every live subprocess is doing.
func (o *Orchestrator) handleAgentEvent(agentID, itemID string, evt agentcli.Event) {
	switch evt.Type {
	case agentcli.EventText:
		o.mu.Lock()
		if a, ok := o.agents[agentID]; ok {
			a.Activity.LastReasoningExcerpt = evt.Text
		}
		o.mu.Unlock()
		o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.AgentProgress, ItemID: itemID, Message: evt.Text})
	case agentcli.EventToolCall:
		o.mu.Lock()
		if a, ok := o.agents[agentID]; ok {
			a.Activity.CurrentTool = evt.ToolName
		}
		o.mu.Unlock()
		o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.ToolCall, ItemID: itemID, Message: evt.ToolName, Data: evt.ToolArgs})
	}
}

func (o *Orchestrator) recordRetryAttempt(a worktype.RetryAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a)
}

// startWork and completeWork replace the generic UpdateStatus call for the
// success path, per spec.md §4.6 step 3's dispatch-loop contract: the
// planning service's own start-work/complete-work operations, not a raw
// status write, are how a live task is marked in progress and finished.
// Failures still go through UpdateStatus (there is no analogous
// fail-work operation) in updatePlanningStatus below.
func (o *Orchestrator) startWork(ctx context.Context, item worktype.WorkItem) {
	if o.cfg.Planning == nil {
		return
	}
	if err := o.cfg.Planning.StartWork(ctx, item.Kind, item.ID); err != nil {
		o.cfg.Logger.Warn("failed to start work on planning service", zap.String("itemId", item.ID), zap.Error(err))
	}
}

func (o *Orchestrator) completeWork(ctx context.Context, item worktype.WorkItem, summary string) {
	if o.cfg.Planning == nil {
		return
	}
	if err := o.cfg.Planning.CompleteWork(ctx, item.Kind, item.ID, summary); err != nil {
		o.cfg.Logger.Warn("failed to complete work on planning service", zap.String("itemId", item.ID), zap.Error(err))
	}
}

func (o *Orchestrator) updatePlanningStatus(ctx context.Context, id string, status worktype.Status) {
	if o.cfg.Planning == nil {
		return
	}
	if err := o.cfg.Planning.UpdateStatus(ctx, id, status); err != nil {
		o.cfg.Logger.Warn("failed to push status to planning service", zap.String("itemId", id), zap.Error(err))
	}
}

func (o *Orchestrator) setStatus(id string, status worktype.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if it, ok := o.items[id]; ok {
		it.Status = status
		it.UpdatedAt = time.Now()
	}
}

// Pause blocks every worker goroutine about to start a new item until
// Resume is called.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isPaused {
		return
	}
	o.isPaused = true
	o.resumeCh = make(chan struct{})
	o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.Paused})
	o.audit.RunPaused(o.cfg.EpicID)
}

// Resume releases any workers blocked by Pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isPaused {
		return
	}
	o.isPaused = false
	close(o.resumeCh)
	o.cfg.Bus.Publish(statusbus.Event{Kind: statusbus.Resumed})
	o.audit.RunResumed(o.cfg.EpicID)
}

// Cancel stops the run at the next safe point.
func (o *Orchestrator) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) isPausedNow() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isPaused
}

func (o *Orchestrator) waitIfPaused(ctx context.Context) {
	o.mu.RLock()
	ch := o.resumeCh
	o.mu.RUnlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) resolveItems(ctx context.Context) ([]worktype.WorkItem, error) {
	if o.cfg.Items != nil {
		return o.cfg.Items, nil
	}
	if o.cfg.Planning == nil {
		return nil, errkind.New(errkind.Config, "RunConfig needs either Items or a Planning client")
	}

	var all []worktype.WorkItem
	cursor := ""
	for {
		page, err := o.cfg.Planning.ListChildren(ctx, o.cfg.EpicID, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.Meta.HasMore {
			break
		}
		cursor = page.Meta.Cursor
	}
	return all, nil
}

func (o *Orchestrator) buildCheckpointState(nextPhase int) checkpoint.State {
	o.mu.RLock()
	items := make(map[string]worktype.WorkItem, len(o.items))
	for id, it := range o.items {
		items[id] = *it
	}
	attempts := make([]worktype.RetryAttempt, len(o.attempts))
	copy(attempts, o.attempts)
	o.mu.RUnlock()

	return checkpoint.State{
		EpicID:     o.cfg.EpicID,
		BaseBranch: o.cfg.BaseBranch,
		Cwd:        o.cfg.Cwd,
		Plan:       o.plan,
		PhaseIndex: nextPhase,
		Items:      items,
		Attempts:   attempts,
		StartedAt:  o.startedAt,
	}
}

func (o *Orchestrator) saveCheckpoint(nextPhase int) {
	state := o.buildCheckpointState(nextPhase)
	if err := o.cp.Save(state); err != nil {
		o.cfg.Logger.Warn("failed to save checkpoint", zap.Error(err))
		return
	}
	o.audit.CheckpointSaved(o.cfg.EpicID, nextPhase)
}

// saveCheckpointWithError persists the checkpoint annotated with the
// run-fatal error (or pause) that stopped the dispatch loop, so a later
// `spectree resume` can surface why the previous run ended.
func (o *Orchestrator) saveCheckpointWithError(nextPhase int, cause error, paused bool) {
	state := o.buildCheckpointState(nextPhase)
	if err := o.cp.SaveErrorState(state, cause, paused); err != nil {
		o.cfg.Logger.Warn("failed to save checkpoint error state", zap.Error(err))
		return
	}
	o.audit.CheckpointSaved(o.cfg.EpicID, nextPhase)
}

// finalize publishes the terminal RunCompleted event and closes out the
// progress aggregation: only terminal-status items (completed, failed,
// skipped) ever count toward the reported totals.
func (o *Orchestrator) finalize(result RunResult) RunResult {
	o.cfg.Bus.Publish(statusbus.Event{
		Kind:    statusbus.RunCompleted,
		Message: result.EpicID,
		Data:    result,
	})
	o.audit.RunCompleted(result.EpicID, len(result.Completed), len(result.Failed), len(result.Skipped))
	return result
}
