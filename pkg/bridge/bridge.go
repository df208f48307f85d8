// Package bridge implements the bridge worker (spec.md §4.12): a single
// heartbeat loop over withdrawals/deposits FIFO collections, grounded on the
// teacher's mempool worker loop (pkg/app/core/mempool), generalized from
// "relay mined transactions" to "pick the oldest pending job, flip it
// atomically to processing, broadcast it, resolve to done/failed".
package bridge

import (
	"context"
	"time"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/chainclient"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const (
	WithdrawalsCollection = "withdrawals"
	DepositsCollection    = "deposits"

	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"

	IdleDelay  = 800 * time.Millisecond
	BusyDelay  = 200 * time.Millisecond
	StaleAfter = 60 * time.Second
)

// Worker drains withdrawals before deposits every tick, one job at a time,
// reentrancy-guarded by running strictly on its own goroutine.
type Worker struct {
	db    store.Store
	chain chainclient.Client
	sink  events.Sink
	nowFn func() time.Time

	idleDelay  time.Duration
	busyDelay  time.Duration
	staleAfter time.Duration
}

func New(db store.Store, chain chainclient.Client, sink events.Sink) *Worker {
	return &Worker{
		db: db, chain: chain, sink: sink, nowFn: time.Now,
		idleDelay: IdleDelay, busyDelay: BusyDelay, staleAfter: StaleAfter,
	}
}

// SetTiming overrides the heartbeat's idle/busy delays and staleness window,
// letting an operator tune the loop (config.Bridge) without touching the
// package defaults tests rely on.
func (w *Worker) SetTiming(idle, busy, stale time.Duration) {
	w.idleDelay = idle
	w.busyDelay = busy
	w.staleAfter = stale
}

// Run executes the heartbeat loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		busy := w.Tick()
		delay := w.idleDelay
		if busy {
			delay = w.busyDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Tick runs one iteration: recover stale processing jobs, then attempt one
// withdrawal, falling back to one deposit if none was pending. Returns
// whether a job was actually worked (for the idle/busy delay choice).
func (w *Worker) Tick() bool {
	w.recoverStale(WithdrawalsCollection)
	w.recoverStale(DepositsCollection)

	if job, ok := w.claimOldest(WithdrawalsCollection); ok {
		w.processWithdrawal(job)
		return true
	}
	if job, ok := w.claimOldest(DepositsCollection); ok {
		w.processDeposit(job)
		return true
	}
	return false
}

// recoverStale flips any `processing` job older than the staleness window
// back to `pending` (spec.md §4.12 step 1) — tolerates a crash mid-broadcast
// without losing the job.
func (w *Worker) recoverStale(collection string) {
	cutoff := w.nowFn().Add(-w.staleAfter).UTC().Format(time.RFC3339Nano)
	_, _ = w.db.UpdateMany(collection,
		store.M{"status": StatusProcessing, "updatedAt": store.Lt{Value: cutoff}},
		store.Update{Set: map[string]interface{}{"status": StatusPending}},
	)
}

// claimOldest implements spec.md §4.12 step 2/3's "pick one, flip to
// processing atomically" pattern via FindOneAndUpdate sorted by createdAt.
func (w *Worker) claimOldest(collection string) (*types.BridgeJob, bool) {
	doc, ok, err := w.db.FindOneAndUpdate(collection,
		store.M{"status": StatusPending},
		store.Update{Set: map[string]interface{}{"status": StatusProcessing, "updatedAt": w.nowFn().UTC().Format(time.RFC3339Nano)}},
		store.FindOneAndUpdateOptions{Sort: &store.SortSpec{Field: "createdAt", Ascending: true}},
	)
	if err != nil || !ok {
		return nil, false
	}
	job, err := store.FromDoc[types.BridgeJob](doc)
	if err != nil {
		return nil, false
	}
	return job, true
}

func (w *Worker) processWithdrawal(job *types.BridgeJob) {
	txID, err := w.chain.BroadcastWithdrawal(job.To, job.Symbol, job.Amount, job.Memo)
	w.resolve(WithdrawalsCollection, job, txID, err)
}

func (w *Worker) processDeposit(job *types.BridgeJob) {
	txID, err := w.chain.BroadcastMint(job.To, job.Symbol, job.Amount, job.Memo)
	w.resolve(DepositsCollection, job, txID, err)
}

func (w *Worker) resolve(collection string, job *types.BridgeJob, txID string, broadcastErr error) {
	job.UpdatedAt = w.nowFn().UTC().Format(time.RFC3339Nano)
	if broadcastErr != nil {
		job.Status = StatusFailed
		job.LastError = broadcastErr.Error()
		job.Attempts++
		w.save(collection, job)
		w.sink.LogEvent("bridge", "bridge_job_failed", job.To, job, job.JobID)
		return
	}
	job.Status = StatusDone
	job.TxID = txID
	w.save(collection, job)
	w.sink.LogEvent("bridge", "bridge_job_done", job.To, job, job.JobID)
}

func (w *Worker) save(collection string, job *types.BridgeJob) {
	doc, err := store.ToDoc(job.JobID, job)
	if err != nil {
		return
	}
	_, _ = w.db.UpdateOne(collection, store.M{"_id": job.JobID}, store.Update{Set: doc})
}

// Enqueue implements spec.md §4.12's enqueue*: insert a new pending job.
func Enqueue(db store.Store, collection, jobID, to, symbol string, amount *bigmath.Int, memo string, createdAt time.Time) error {
	job := &types.BridgeJob{
		JobID: jobID, To: to, Amount: amount, Symbol: symbol, Memo: memo,
		Status: StatusPending, Attempts: 0,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano), UpdatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	}
	doc, err := store.ToDoc(job.JobID, job)
	if err != nil {
		return err
	}
	return db.InsertOne(collection, doc)
}
