package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"curator/internal/queue"
	"curator/internal/testsupport"
)

func TestEnqueueAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.Spec{
		Payload:  queue.PublishPayload{EntityType: "movie", EntityID: 42},
		Priority: queue.PriorityHigh,
		Manual:   true,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected assigned job id")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	if !job.Manual {
		t.Fatal("expected manual flag to persist")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected job to be retrievable")
	}
	if fetched.Type != queue.TypePublish {
		t.Fatalf("expected publish type, got %s", fetched.Type)
	}
	payload, err := queue.DecodePayload(fetched)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	publish, ok := payload.(queue.PublishPayload)
	if !ok {
		t.Fatalf("expected PublishPayload, got %T", payload)
	}
	if publish.EntityID != 42 {
		t.Fatalf("expected entity 42, got %d", publish.EntityID)
	}
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)

	_, err := store.Enqueue(context.Background(), queue.Spec{
		Payload: queue.PublishPayload{EntityType: "movie"},
	})
	if err == nil {
		t.Fatal("expected validation error for missing entity id")
	}

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty queue, found %d jobs", len(jobs))
	}
}

func TestClaimNextOrdersByPriorityThenAge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	lowFirst, err := store.Enqueue(ctx, queue.Spec{
		Payload:  queue.VerifyPayload{EntityType: "movie", EntityID: 1},
		Priority: queue.PriorityLow,
	})
	if err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	current = current.Add(time.Minute)
	high, err := store.Enqueue(ctx, queue.Spec{
		Payload:  queue.VerifyPayload{EntityType: "movie", EntityID: 2},
		Priority: queue.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}
	current = current.Add(time.Minute)
	lowSecond, err := store.Enqueue(ctx, queue.Spec{
		Payload:  queue.VerifyPayload{EntityType: "movie", EntityID: 3},
		Priority: queue.PriorityLow,
	})
	if err != nil {
		t.Fatalf("enqueue second low: %v", err)
	}

	expected := []int64{high.ID, lowFirst.ID, lowSecond.ID}
	for i, want := range expected {
		claimed, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed == nil {
			t.Fatalf("claim %d: expected a job", i)
		}
		if claimed.ID != want {
			t.Fatalf("claim %d: expected job %d, got %d", i, want, claimed.ID)
		}
		if claimed.Status != queue.StatusProcessing {
			t.Fatalf("claim %d: expected processing status, got %s", i, claimed.Status)
		}
		if claimed.StartedAt == nil {
			t.Fatalf("claim %d: expected started_at to be set", i)
		}
	}

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim empty: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected empty queue, got job %d", claimed.ID)
	}
}

func TestClaimNextNeverDoubleAssigns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		if _, err := store.Enqueue(ctx, queue.Spec{
			Payload: queue.VerifyPayload{EntityType: "movie", EntityID: int64(i + 1)},
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	const workers = 8
	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("expected %d distinct claims, got %d", jobCount, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %d claimed %d times", id, count)
		}
	}
}

func TestFailRequeuesWithBackoffUntilExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.MaxRetries = 2
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	job, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.EnrichMetadataPayload{EntityType: "movie", EntityID: 7},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First failure: requeued with a 30s delay.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	requeued, err := store.Fail(ctx, job.ID, "provider timeout", true)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !requeued {
		t.Fatal("expected first failure to requeue")
	}

	pending, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pending.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}
	if pending.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", pending.RetryCount)
	}
	if pending.NotBefore == nil {
		t.Fatal("expected not_before to be set")
	}
	if got, want := pending.NotBefore.Sub(current), 30*time.Second; got != want {
		t.Fatalf("expected 30s delay, got %s", got)
	}

	// Still delayed: not claimable yet.
	early, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim during delay: %v", err)
	}
	if early != nil {
		t.Fatalf("expected delayed job to be unclaimable, got %d", early.ID)
	}

	// Second failure after the delay elapses: doubled backoff.
	current = current.Add(31 * time.Second)
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim after delay: %v", err)
	}
	requeued, err = store.Fail(ctx, job.ID, "provider timeout", true)
	if err != nil {
		t.Fatalf("second fail: %v", err)
	}
	if !requeued {
		t.Fatal("expected second failure to requeue")
	}
	pending, err = store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get after second fail: %v", err)
	}
	if got, want := pending.NotBefore.Sub(current), 60*time.Second; got != want {
		t.Fatalf("expected 60s delay, got %s", got)
	}

	// Third failure exhausts the retry budget and archives the job.
	current = current.Add(2 * time.Minute)
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim final: %v", err)
	}
	requeued, err = store.Fail(ctx, job.ID, "provider timeout", true)
	if err != nil {
		t.Fatalf("final fail: %v", err)
	}
	if requeued {
		t.Fatal("expected final failure to archive")
	}

	gone, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if gone != nil {
		t.Fatal("expected job to leave the active set")
	}

	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if history[0].Result != queue.ResultFailed {
		t.Fatalf("expected failed result, got %s", history[0].Result)
	}
	if history[0].ErrorMessage != "provider timeout" {
		t.Fatalf("unexpected error message %q", history[0].ErrorMessage)
	}
}

func TestFailNonRetryableArchivesImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.PublishPayload{EntityType: "movie", EntityID: 9},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	requeued, err := store.Fail(ctx, job.ID, "entity not found", false)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if requeued {
		t.Fatal("expected non-retryable failure to archive")
	}
	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Result != queue.ResultFailed {
		t.Fatalf("expected one failed history entry, got %+v", history)
	}
}

func TestCompleteArchivesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.NotifyPlayersPayload{GroupName: "living-room", Event: "library-updated"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	active, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected empty active set, got %d", len(active))
	}

	history, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if history[0].Result != queue.ResultCompleted {
		t.Fatalf("expected completed result, got %s", history[0].Result)
	}
	if history[0].JobID != job.ID {
		t.Fatalf("expected job id %d, got %d", job.ID, history[0].JobID)
	}
}

func TestResetStalledRequeuesAllProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	const jobCount = 5
	for i := 0; i < jobCount; i++ {
		if _, err := store.Enqueue(ctx, queue.Spec{
			Payload: queue.VerifyPayload{EntityType: "movie", EntityID: int64(i + 1)},
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := store.ClaimNext(ctx); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	reset, err := store.ResetStalled(ctx)
	if err != nil {
		t.Fatalf("reset stalled: %v", err)
	}
	if reset != 3 {
		t.Fatalf("expected 3 reset jobs, got %d", reset)
	}

	processing, err := store.List(ctx, queue.StatusProcessing)
	if err != nil {
		t.Fatalf("list processing: %v", err)
	}
	if len(processing) != 0 {
		t.Fatalf("expected no processing jobs, got %d", len(processing))
	}
	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != jobCount {
		t.Fatalf("expected %d pending jobs, got %d", jobCount, len(pending))
	}
	for _, job := range pending {
		if job.StartedAt != nil {
			t.Fatalf("expected cleared started_at on job %d", job.ID)
		}
	}
}

func TestStatsReportsCountsAndOldestAge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	if _, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.VerifyPayload{EntityType: "movie", EntityID: 1},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	current = current.Add(10 * time.Minute)
	if _, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.VerifyPayload{EntityType: "movie", EntityID: 2},
	}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	current = current.Add(5 * time.Minute)
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.Pending)
	}
	if stats.Processing != 1 {
		t.Fatalf("expected 1 processing, got %d", stats.Processing)
	}
	if stats.OldestPendingAge != 5*time.Minute {
		t.Fatalf("expected 5m oldest age, got %s", stats.OldestPendingAge)
	}
}

func TestPruneHistoryRemovesOldEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	first, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.VerifyPayload{EntityType: "movie", EntityID: 1},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	current = current.Add(48 * time.Hour)
	second, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.VerifyPayload{EntityType: "movie", EntityID: 2},
	})
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim second: %v", err)
	}
	if err := store.Complete(ctx, second.ID); err != nil {
		t.Fatalf("complete second: %v", err)
	}

	pruned, err := store.PruneHistory(ctx, current.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", pruned)
	}
	remaining, err := store.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(remaining) != 1 || remaining[0].JobID != second.ID {
		t.Fatalf("expected only the recent entry to remain, got %+v", remaining)
	}
}

func TestRemoveDeletesActiveJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.Spec{
		Payload: queue.VerifyPayload{EntityType: "movie", EntityID: 1},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	removed, err := store.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal to report success")
	}
	removed, err = store.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Fatal("expected second removal to report no rows")
	}
}
