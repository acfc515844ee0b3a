package scheduler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/remote"
	"github.com/tsengko/pulsefeed-sync/internal/remote/remotetest"
	syncpkg "github.com/tsengko/pulsefeed-sync/internal/sync"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

type testRig struct {
	store  *db.Store
	queue  *queue.Manager
	client *remotetest.Client
	sched  *Scheduler
}

func newTestRig(t *testing.T, oracle connectivity.Oracle, cfg *Config) *testRig {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })

	client := &remotetest.Client{}
	q := queue.NewManager(store, nil, models.MaxRetries)
	engine := syncpkg.NewEngine(store, q, client, nil)
	return &testRig{
		store:  store,
		queue:  q,
		client: client,
		sched:  New(engine, q, oracle, cfg),
	}
}

func (r *testRig) enqueueMessage(t *testing.T, id string, ts int64) *models.SyncQueueItem {
	t.Helper()
	msg := &models.Message{
		ID: id, ChatID: "chat-1", SenderID: "user-1", Text: "hello",
		SyncStatus: models.SyncStatusPending, LocalTimestamp: ts,
	}
	payload, _ := json.Marshal(&models.SendMessagePayload{LocalID: id, ChatID: "chat-1", SenderID: "user-1", Text: "hello"})
	item := &models.SyncQueueItem{
		Action: models.ActionSendMessage, Payload: payload,
		LocalReferenceID: id, Timestamp: ts,
	}
	queue.Prepare(item)
	if err := r.store.CreateMessageWithQueueItem(msg, item); err != nil {
		t.Fatalf("CreateMessageWithQueueItem failed: %v", err)
	}
	return item
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

// TestPeriodicDrain verifies the worker fires on its interval and empties
// the queue.
func TestPeriodicDrain(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), &Config{
		SyncInterval: 20 * time.Millisecond,
		BackoffFloor: 10 * time.Millisecond,
	})
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	rig.sched.Start(context.Background())
	defer rig.sched.Stop()

	waitFor(t, 2*time.Second, func() bool {
		size, _ := rig.queue.Size()
		return size == 0
	})
}

// TestPeriodicSkipsWhileOffline verifies offline ticks never reach the
// remote client.
func TestPeriodicSkipsWhileOffline(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(false), &Config{
		SyncInterval: 10 * time.Millisecond,
		BackoffFloor: 10 * time.Millisecond,
	})
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	rig.sched.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	rig.sched.Stop()

	if n := len(rig.client.Calls()); n != 0 {
		t.Errorf("Expected no remote calls while offline, got %d", n)
	}
	size, err := rig.queue.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 1 {
		t.Errorf("Expected queued item preserved offline, got %d", size)
	}
}

// TestNextDelayBackoff verifies the exponential backoff schedule and its cap
// at the periodic interval.
func TestNextDelayBackoff(t *testing.T) {
	s := New(nil, nil, connectivity.Static(true), &Config{
		SyncInterval: 10 * time.Minute,
		BackoffFloor: 30 * time.Second,
	})

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 10 * time.Minute},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{40, 10 * time.Minute}, // shift overflow clamps to the interval
	}
	for _, tc := range cases {
		s.mu.Lock()
		s.failures = tc.failures
		s.mu.Unlock()
		if got := s.nextDelay(); got != tc.want {
			t.Errorf("failures=%d: expected %s, got %s", tc.failures, tc.want, got)
		}
	}
}

// TestTriggerSyncRunsOnce verifies the immediate trigger drains in the
// background and reports false while a pass is running.
func TestTriggerSyncRunsOnce(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.client.Delay = 50 * time.Millisecond
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	rig.sched.Start(context.Background())
	if !rig.sched.TriggerSync(context.Background()) {
		t.Fatal("Expected first trigger to start a drain")
	}
	waitFor(t, 2*time.Second, rig.sched.engine.Draining)
	if rig.sched.TriggerSync(context.Background()) {
		t.Error("Expected trigger to report false while draining")
	}

	waitFor(t, 2*time.Second, func() bool {
		size, _ := rig.queue.Size()
		return size == 0
	})
	rig.sched.Stop()
}

// TestTriggerSyncRequiresRunningWorker verifies a trigger against a stopped
// worker is refused instead of spawning a drain nothing will wait for.
func TestTriggerSyncRequiresRunningWorker(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	if rig.sched.TriggerSync(context.Background()) {
		t.Error("Expected trigger refused before Start")
	}

	rig.sched.Start(context.Background())
	rig.sched.Stop()
	if rig.sched.TriggerSync(context.Background()) {
		t.Error("Expected trigger refused after Stop")
	}
	if n := len(rig.client.Calls()); n != 0 {
		t.Errorf("Expected no dispatches from refused triggers, got %d", n)
	}
}

// TestSyncNowResetsExhaustedItems verifies the manual path gives parked
// items another full round of retries.
func TestSyncNowResetsExhaustedItems(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())

	failing := true
	rig.client.Handler = func(action models.Action, key string, p models.Payload) (*remote.Response, error) {
		if failing {
			return nil, stderrors.New("connection refused")
		}
		return &remote.Response{
			Success: true,
			Data:    map[string]interface{}{"messageId": "srv_msg_1"},
		}, nil
	}
	item := rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	// Exhaust the automatic retries.
	for i := 0; i < models.MaxRetries; i++ {
		if _, err := rig.sched.SyncNow(context.Background()); err == nil {
			t.Fatal("Expected SyncNow to fail while the remote is down")
		}
	}
	got, err := rig.store.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem failed: %v", err)
	}
	if got.Status != models.QueueStatusFailed {
		t.Fatalf("Expected parked item, got %s", got.Status)
	}

	failing = false
	result, err := rig.sched.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if result.Succeeded != 1 {
		t.Errorf("Expected the resurrected item to deliver, got %+v", result)
	}
	if _, err := rig.store.GetMessage("srv_msg_1"); err != nil {
		t.Errorf("Expected reconciled entity, got %v", err)
	}
}

// TestSyncNowResetsBackoff verifies a successful manual sync clears the
// failure streak.
func TestSyncNowResetsBackoff(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), &Config{
		SyncInterval: 10 * time.Minute,
		BackoffFloor: 30 * time.Second,
	})

	rig.sched.mu.Lock()
	rig.sched.failures = 4
	rig.sched.mu.Unlock()

	if _, err := rig.sched.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if got := rig.sched.nextDelay(); got != 10*time.Minute {
		t.Errorf("Expected backoff cleared, got %s", got)
	}
}

// TestHandleOnlineTransition verifies coming back online triggers a drain,
// while going offline and transitions before Start do nothing.
func TestHandleOnlineTransition(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	// Not running yet: the transition must be ignored.
	rig.sched.HandleOnlineTransition(true)
	time.Sleep(20 * time.Millisecond)
	if n := len(rig.client.Calls()); n != 0 {
		t.Fatalf("Expected no drain before Start, got %d calls", n)
	}

	rig.sched.Start(context.Background())
	defer rig.sched.Stop()

	rig.sched.HandleOnlineTransition(false)
	time.Sleep(20 * time.Millisecond)
	if n := len(rig.client.Calls()); n != 0 {
		t.Fatalf("Expected no drain on going offline, got %d calls", n)
	}

	rig.sched.HandleOnlineTransition(true)
	waitFor(t, 2*time.Second, func() bool {
		size, _ := rig.queue.Size()
		return size == 0
	})
}

// TestStopWaitsForInflightDrain verifies Stop returns only after a running
// pass has finished.
func TestStopWaitsForInflightDrain(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.client.Delay = 50 * time.Millisecond
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	rig.sched.Start(context.Background())
	if !rig.sched.TriggerSync(context.Background()) {
		t.Fatal("Expected trigger to start")
	}
	waitFor(t, 2*time.Second, rig.sched.engine.Draining)

	rig.sched.Stop()
	if rig.sched.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
	if rig.sched.engine.Draining() {
		t.Error("Expected in-flight drain finished before Stop returned")
	}
	size, err := rig.queue.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("Expected the in-flight item delivered, got %d", size)
	}
}

// TestStartTwiceIsNoOp verifies double Start leaves one worker.
func TestStartTwiceIsNoOp(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.sched.Start(context.Background())
	rig.sched.Start(context.Background())
	if !rig.sched.IsRunning() {
		t.Error("Expected running scheduler")
	}
	rig.sched.Stop()
	rig.sched.Stop()
	if rig.sched.IsRunning() {
		t.Error("Expected stopped scheduler")
	}
}

// TestGetStatus verifies the snapshot carries worker and queue state.
func TestGetStatus(t *testing.T) {
	rig := newTestRig(t, connectivity.Static(true), DefaultConfig())
	rig.enqueueMessage(t, "local_msg_1000_0001", 1000)

	status := rig.sched.GetStatus()
	if status.IsRunning {
		t.Error("Expected not running before Start")
	}
	if !status.IsOnline {
		t.Error("Expected online oracle to be reflected")
	}
	if status.QueueStats["pending"] != 1 {
		t.Errorf("Expected 1 pending in stats, got %+v", status.QueueStats)
	}
	if status.LastSyncTime != nil {
		t.Error("Expected no last sync time before any pass")
	}

	if _, err := rig.sched.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	status = rig.sched.GetStatus()
	if status.LastSyncTime == nil {
		t.Error("Expected last sync time after a successful pass")
	}
}
