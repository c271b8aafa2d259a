package syncer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bridgelabs/pupilsync/internal/api"
	"github.com/bridgelabs/pupilsync/internal/store"
)

// fakeRoster is an in-memory roster service. Pupils are keyed by remote id
// and served back in pages of five, like the real service.
type fakeRoster struct {
	mu     sync.Mutex
	nextID int64
	pupils map[int64]api.PupilInfo

	// per-call overrides
	createErr error
	updateErr error
	deleteErr error
	listErr   error

	creates int
	updates int
	deletes int
	lists   int
}

const fakePageSize = 5

func newFakeRoster() *fakeRoster {
	return &fakeRoster{nextID: 1, pupils: make(map[int64]api.PupilInfo)}
}

func (f *fakeRoster) seed(name, country string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.pupils[id] = api.PupilInfo{PupilID: id, Name: name, Country: country}
	return id
}

func (f *fakeRoster) sorted() []api.PupilInfo {
	var out []api.PupilInfo
	for id := int64(1); id < f.nextID; id++ {
		if p, ok := f.pupils[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeRoster) ListPupils(ctx context.Context, page int) (*api.PupilPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}

	all := f.sorted()
	start := (page - 1) * fakePageSize
	if start >= len(all) {
		return nil, &api.StatusError{Code: http.StatusNotFound, Detail: "no such page"}
	}
	end := start + fakePageSize
	if end > len(all) {
		end = len(all)
	}
	total := (len(all) + fakePageSize - 1) / fakePageSize
	return &api.PupilPage{
		Items:      all[start:end],
		PageNumber: page,
		ItemCount:  end - start,
		TotalPages: total,
	}, nil
}

func (f *fakeRoster) CreatePupil(ctx context.Context, req api.PupilRequest) (*api.PupilInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := f.nextID
	f.nextID++
	info := api.PupilInfo{
		PupilID: id, Name: req.Name, Country: req.Country,
		Image: req.Image, Latitude: req.Latitude, Longitude: req.Longitude,
	}
	f.pupils[id] = info
	return &info, nil
}

func (f *fakeRoster) UpdatePupil(ctx context.Context, id int64, req api.PupilRequest) (*api.PupilInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if _, ok := f.pupils[id]; !ok {
		return nil, &api.StatusError{Code: http.StatusNotFound, Detail: "no such pupil"}
	}
	info := api.PupilInfo{
		PupilID: id, Name: req.Name, Country: req.Country,
		Image: req.Image, Latitude: req.Latitude, Longitude: req.Longitude,
	}
	f.pupils[id] = info
	return &info, nil
}

func (f *fakeRoster) DeletePupil(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.pupils[id]; !ok {
		return &api.StatusError{Code: http.StatusNotFound, Detail: "no such pupil"}
	}
	delete(f.pupils, id)
	return nil
}

func setupEngine(t *testing.T) (*Engine, *store.DB, *store.StatusStore, *fakeRoster) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "roster.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	status := store.NewStatusStore(db, nil)
	roster := newFakeRoster()
	return New(db, status, roster, nil), db, status, roster
}

func int64Ptr(v int64) *int64 { return &v }

func TestSyncEmptyServerEmptyLocal(t *testing.T) {
	engine, db, status, _ := setupEngine(t)
	ctx := context.Background()

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed against an empty server")
	}

	got, _ := status.Get(ctx)
	if got != store.StatusUpToDate {
		t.Errorf("Expected UP_TO_DATE, got %q", got)
	}
	count, _ := db.CountPupils(ctx)
	if count != 0 {
		t.Errorf("Expected empty roster, got %d rows", count)
	}
}

func TestSyncPullsFullRoster(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	// 12 pupils: three pages of 5, 5, 2.
	for i := 0; i < 12; i++ {
		roster.seed("Pupil", "KE")
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	count, _ := db.CountPupils(ctx)
	if count != 12 {
		t.Errorf("Expected 12 pulled rows, got %d", count)
	}
	if roster.lists != 3 {
		t.Errorf("Expected 3 page fetches, got %d", roster.lists)
	}
}

func TestSyncReplacesStaleLocalRows(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	// Local row for a pupil the server no longer has.
	stale := &store.Pupil{Name: "Stale", Country: "KE", RemoteID: int64Ptr(999)}
	if err := db.UpsertPupil(ctx, stale); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}
	roster.seed("Fresh", "UG")

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	pupils, _ := db.ListPupils(ctx)
	if len(pupils) != 1 || pupils[0].Name != "Fresh" {
		t.Errorf("Expected only the server's roster, got %+v", pupils)
	}
}

func TestSyncReplaysQueuedAdd(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	queued := &store.Pupil{
		Name: "Offline Add", Country: "KE",
		PendingSync: true, SyncType: store.SyncAdd,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.creates != 1 {
		t.Errorf("Expected 1 create, got %d", roster.creates)
	}
	pupils, _ := db.ListPupils(ctx)
	if len(pupils) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(pupils))
	}
	p := pupils[0]
	if p.PendingSync || p.SyncType != store.SyncNone {
		t.Errorf("Replayed row still pending: %+v", p)
	}
	if p.RemoteID == nil {
		t.Error("Replayed row missing remote id")
	}
}

func TestSyncReplaysQueuedUpdate(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	id := roster.seed("Before", "KE")
	queued := &store.Pupil{
		Name: "After", Country: "KE", RemoteID: int64Ptr(id),
		PendingSync: true, SyncType: store.SyncUpdate,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.updates != 1 {
		t.Errorf("Expected 1 update, got %d", roster.updates)
	}
	if roster.pupils[id].Name != "After" {
		t.Errorf("Server copy not updated: %+v", roster.pupils[id])
	}
}

func TestSyncUpdateWithoutRemoteIDCreates(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	queued := &store.Pupil{
		Name: "Never Created", Country: "KE",
		PendingSync: true, SyncType: store.SyncUpdate,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.creates != 1 || roster.updates != 0 {
		t.Errorf("Expected a create instead of an update, got creates=%d updates=%d",
			roster.creates, roster.updates)
	}
}

func TestSyncUpdateRecreatesAfterRemote404(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	// Remote id the server does not know.
	queued := &store.Pupil{
		Name: "Lost", Country: "KE", RemoteID: int64Ptr(500),
		PendingSync: true, SyncType: store.SyncUpdate,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.creates != 1 {
		t.Errorf("Expected recreate after 404, got %d creates", roster.creates)
	}
	pupils, _ := db.ListPupils(ctx)
	if len(pupils) != 1 || pupils[0].RemoteID == nil || *pupils[0].RemoteID == 500 {
		t.Errorf("Expected new remote id after recreate, got %+v", pupils)
	}
}

func TestSyncReplaysQueuedDelete(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	id := roster.seed("Doomed", "KE")
	queued := &store.Pupil{
		Name: "Doomed", Country: "KE", RemoteID: int64Ptr(id),
		PendingSync: true, SyncType: store.SyncDelete,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", roster.deletes)
	}
	if _, ok := roster.pupils[id]; ok {
		t.Error("Server still has the deleted pupil")
	}
	count, _ := db.CountPupils(ctx)
	if count != 0 {
		t.Errorf("Expected empty local roster, got %d rows", count)
	}
}

func TestSyncDelete404CountsAsDeleted(t *testing.T) {
	engine, db, _, _ := setupEngine(t)
	ctx := context.Background()

	queued := &store.Pupil{
		Name: "Already Gone", Country: "KE", RemoteID: int64Ptr(321),
		PendingSync: true, SyncType: store.SyncDelete,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}
	count, _ := db.CountPupils(ctx)
	if count != 0 {
		t.Errorf("Expected local row removed after remote 404, got %d rows", count)
	}
}

func TestSyncDeleteLocalOnlyRow(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	queued := &store.Pupil{
		Name: "Local Only", Country: "KE",
		PendingSync: true, SyncType: store.SyncDelete,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.deletes != 0 {
		t.Errorf("Expected no remote call for a local-only delete, got %d", roster.deletes)
	}
	count, _ := db.CountPupils(ctx)
	if count != 0 {
		t.Errorf("Expected row removed locally, got %d rows", count)
	}
}

func TestSyncSkipsPullWhenReplayFails(t *testing.T) {
	engine, db, status, roster := setupEngine(t)
	ctx := context.Background()

	roster.createErr = errors.New("server down")
	queued := &store.Pupil{
		Name: "Stuck", Country: "KE",
		PendingSync: true, SyncType: store.SyncAdd,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}

	if engine.Sync(ctx) {
		t.Fatal("Expected sync to fail")
	}

	if roster.lists != 0 {
		t.Errorf("Pull must not run after a replay failure, got %d list calls", roster.lists)
	}
	got, _ := status.Get(ctx)
	if got != store.StatusOutOfDate {
		t.Errorf("Expected OUT_OF_DATE after failure, got %q", got)
	}

	// The mutation stays queued for the next pass.
	pending, _ := db.ListPendingPupils(ctx)
	if len(pending) != 1 {
		t.Errorf("Expected mutation still queued, got %d", len(pending))
	}
}

func TestSyncReplaysRemainingAfterOneFailure(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	id := roster.seed("Doomed", "KE")
	roster.createErr = errors.New("create rejected")

	add := &store.Pupil{Name: "Stuck Add", Country: "KE", PendingSync: true, SyncType: store.SyncAdd}
	del := &store.Pupil{Name: "Doomed", Country: "KE", RemoteID: int64Ptr(id), PendingSync: true, SyncType: store.SyncDelete}
	for _, p := range []*store.Pupil{add, del} {
		if err := db.UpsertPupil(ctx, p); err != nil {
			t.Fatalf("UpsertPupil failed: %v", err)
		}
	}

	if engine.Sync(ctx) {
		t.Fatal("Expected sync to fail overall")
	}

	// The delete after the failed add was still attempted and confirmed.
	if roster.deletes != 1 {
		t.Errorf("Expected the delete to be replayed despite the failed add, got %d", roster.deletes)
	}
	if _, ok := roster.pupils[id]; ok {
		t.Error("Server should have confirmed the delete")
	}
}

func TestSyncPullFailureMidway(t *testing.T) {
	engine, _, status, roster := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		roster.seed("P", "KE")
	}
	// Page 1 succeeds, then the transport dies.
	calls := 0
	engine.client = &listFailAfter{fakeRoster: roster, failAfter: 1, calls: &calls}

	if engine.Sync(ctx) {
		t.Fatal("Expected sync to fail on page 2")
	}
	got, _ := status.Get(ctx)
	if got != store.StatusOutOfDate {
		t.Errorf("Expected OUT_OF_DATE, got %q", got)
	}
}

// listFailAfter wraps fakeRoster, failing list calls after the first n.
type listFailAfter struct {
	*fakeRoster
	failAfter int
	calls     *int
}

func (l *listFailAfter) ListPupils(ctx context.Context, page int) (*api.PupilPage, error) {
	*l.calls++
	if *l.calls > l.failAfter {
		return nil, errors.New("connection reset")
	}
	return l.fakeRoster.ListPupils(ctx, page)
}

func TestSyncSingleFlight(t *testing.T) {
	engine, _, status, _ := setupEngine(t)
	ctx := context.Background()

	// Simulate an in-flight pass.
	if err := status.Set(ctx, store.StatusSyncing); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if engine.Sync(ctx) {
		t.Fatal("Expected concurrent sync request to be rejected")
	}

	// The rejected call must not touch the network or the persisted status.
	roster := engine.client.(*fakeRoster)
	if roster.lists+roster.creates+roster.updates+roster.deletes != 0 {
		t.Error("Rejected sync touched the network")
	}
	got, _ := status.Get(ctx)
	if got != store.StatusSyncing {
		t.Errorf("Rejected sync changed status to %q", got)
	}
}

func TestSyncThreePendingMutationsThenPull(t *testing.T) {
	engine, db, status, roster := setupEngine(t)
	ctx := context.Background()

	updateID := roster.seed("Old Name", "KE")
	deleteID := roster.seed("To Delete", "KE")
	roster.seed("Untouched", "UG")

	add := &store.Pupil{Name: "New", Country: "KE", PendingSync: true, SyncType: store.SyncAdd}
	upd := &store.Pupil{Name: "New Name", Country: "KE", RemoteID: int64Ptr(updateID), PendingSync: true, SyncType: store.SyncUpdate}
	del := &store.Pupil{Name: "To Delete", Country: "KE", RemoteID: int64Ptr(deleteID), PendingSync: true, SyncType: store.SyncDelete}
	for _, p := range []*store.Pupil{add, upd, del} {
		if err := db.UpsertPupil(ctx, p); err != nil {
			t.Fatalf("UpsertPupil failed: %v", err)
		}
	}

	if !engine.Sync(ctx) {
		t.Fatal("Sync failed")
	}

	if roster.creates != 1 || roster.updates != 1 || roster.deletes != 1 {
		t.Errorf("Expected one of each replay, got creates=%d updates=%d deletes=%d",
			roster.creates, roster.updates, roster.deletes)
	}

	// Post-pull, the local roster mirrors the server: the new pupil, the
	// renamed one, and the untouched one.
	pupils, _ := db.ListPupils(ctx)
	if len(pupils) != 3 {
		t.Fatalf("Expected 3 rows after pull, got %d", len(pupils))
	}
	names := map[string]bool{}
	for _, p := range pupils {
		names[p.Name] = true
		if p.PendingSync {
			t.Errorf("Row still pending after full pass: %+v", p)
		}
	}
	for _, want := range []string{"New", "New Name", "Untouched"} {
		if !names[want] {
			t.Errorf("Missing %q after pull, have %v", want, names)
		}
	}

	current, _ := status.Get(ctx)
	if current != store.StatusUpToDate {
		t.Errorf("Expected UP_TO_DATE, got %q", current)
	}
}

func TestResetStaleClearsSyncing(t *testing.T) {
	engine, _, status, _ := setupEngine(t)
	ctx := context.Background()

	if err := status.Set(ctx, store.StatusSyncing); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.ResetStale(ctx); err != nil {
		t.Fatalf("ResetStale failed: %v", err)
	}
	got, _ := status.Get(ctx)
	if got != store.StatusOutOfDate {
		t.Errorf("Expected OUT_OF_DATE after reset, got %q", got)
	}

	// A non-SYNCING status is left alone.
	if err := status.Set(ctx, store.StatusUpToDate); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := engine.ResetStale(ctx); err != nil {
		t.Fatalf("ResetStale failed: %v", err)
	}
	got, _ = status.Get(ctx)
	if got != store.StatusUpToDate {
		t.Errorf("ResetStale touched a healthy status: %q", got)
	}
}

func TestSyncPreservesPendingRowsDuringPull(t *testing.T) {
	engine, db, _, roster := setupEngine(t)
	ctx := context.Background()

	id := roster.seed("Server Copy", "KE")

	// Queue an update for that pupil and make its replay fail so the row
	// is still pending when a later pass pulls.
	queued := &store.Pupil{
		Name: "Local Edit", Country: "KE", RemoteID: int64Ptr(id),
		PendingSync: true, SyncType: store.SyncUpdate,
	}
	if err := db.UpsertPupil(ctx, queued); err != nil {
		t.Fatalf("UpsertPupil failed: %v", err)
	}
	roster.updateErr = errors.New("flaky")
	if engine.Sync(ctx) {
		t.Fatal("Expected first sync to fail")
	}

	got, err := db.GetPupilByID(ctx, queued.LocalID)
	if err != nil {
		t.Fatalf("GetPupilByID failed: %v", err)
	}
	if got.Name != "Local Edit" || !got.PendingSync {
		t.Errorf("Pending row lost during failed pass: %+v", got)
	}

	// Second pass with the server healthy: replay wins, edit reaches the
	// server and the row is clean.
	roster.updateErr = nil
	if !engine.Sync(ctx) {
		t.Fatal("Second sync failed")
	}
	if roster.pupils[id].Name != "Local Edit" {
		t.Errorf("Server never received the edit: %+v", roster.pupils[id])
	}
	pending, _ := db.CountPendingPupils(ctx)
	if pending != 0 {
		t.Errorf("Expected no pending rows after recovery, got %d", pending)
	}
}
