package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/fetchcache"
	"github.com/bmess/blueocean-plugin/internal/store"
)

const baseURL = "http://ci.test"

type fakeFetcher[V any] struct {
	mu        sync.Mutex
	responses map[string]V
	errs      map[string]error
	calls     []string
	started   chan string
	gate      chan struct{}
}

func newFakeFetcher[V any]() *fakeFetcher[V] {
	return &fakeFetcher[V]{responses: map[string]V{}, errs: map[string]error{}}
}

func (f *fakeFetcher[V]) FetchAlways(ctx context.Context, url string) (V, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	v, ok := f.responses[url]
	err := f.errs[url]
	started, gate := f.started, f.gate
	f.mu.Unlock()

	if started != nil {
		started <- url
	}
	if gate != nil {
		<-gate
	}
	var zero V
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, &backend.TransportError{URL: url, StatusCode: http.StatusNotFound, Status: "404 Not Found"}
	}
	return v, nil
}

type fixture struct {
	store    *store.Store
	runs     *fakeFetcher[domain.Run]
	branches *fakeFetcher[domain.Branch]
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(nil, nil)
	t.Cleanup(st.Close)
	runs := newFakeFetcher[domain.Run]()
	branches := newFakeFetcher[domain.Branch]()
	rec := New(st, runs, branches, Config{BaseURL: baseURL, Organization: "jenkins"}, nil, nil)
	if rec == nil {
		t.Fatalf("expected reconciler")
	}
	return &fixture{store: st, runs: runs, branches: branches, rec: rec}
}

func (f *fixture) seedRuns(t *testing.T, pipeline string, runs ...domain.Run) {
	t.Helper()
	if runs == nil {
		runs = []domain.Run{}
	}
	if _, err := f.store.Dispatch(store.SetRuns{Pipeline: pipeline, Runs: runs}); err != nil {
		t.Fatalf("seed runs: %v", err)
	}
}

func (f *fixture) runsOf(t *testing.T, pipeline string) []domain.Run {
	t.Helper()
	runs, ok := f.store.Snapshot().RunsFor(pipeline)
	if !ok {
		t.Fatalf("no runs cached for %s", pipeline)
	}
	return runs
}

func decodeEvent(t *testing.T, raw string) domain.Event {
	t.Helper()
	var e domain.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return e
}

func TestQueuedEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo")
	e := domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "demo", QueueID: "7"}

	first, err := f.rec.Handle(context.Background(), e)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	once := f.runsOf(t, "demo")

	second, err := f.rec.Handle(context.Background(), e)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	twice := f.runsOf(t, "demo")

	if first != OutcomeApplied || second != OutcomeDuplicate {
		t.Fatalf("outcomes=%s,%s", first, second)
	}
	if len(once) != 1 || len(twice) != 1 || once[0] != twice[0] {
		t.Fatalf("collections differ: once=%+v twice=%+v", once, twice)
	}
	if len(f.runs.calls) != 0 {
		t.Fatalf("queued event fetched: %v", f.runs.calls)
	}
}

func TestQueuedEventForUncachedJobIsIgnored(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "other", QueueID: "1"})
	if err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	if out != OutcomeIgnored {
		t.Fatalf("outcome=%s, want ignored", out)
	}
	if _, ok := f.store.Snapshot().RunsFor("other"); ok {
		t.Fatalf("collection created for uncached job")
	}
}

func TestStartedEventForUncachedJobIsSilent(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "other", ObjectID: "3"})
	if err != nil || out != OutcomeIgnored {
		t.Fatalf("Handle()=%s,%v, want ignored", out, err)
	}
	if len(f.runs.calls) != 0 {
		t.Fatalf("fetched for uncached job: %v", f.runs.calls)
	}
	if len(f.store.Snapshot().Messages) != 0 {
		t.Fatalf("miss produced a message")
	}
}

func TestQueuedDuplicateCheckIsPerBranch(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "app", domain.Run{QueueID: "5", Pipeline: "main", State: domain.RunStateQueued})

	e := domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "app", BranchName: "dev", IsMultiBranch: true, QueueID: "5"}
	if _, err := f.rec.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	runs := f.runsOf(t, "app")
	if len(runs) != 2 || runs[0].Pipeline != "dev" {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestEndToEndDemoScenario(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo")
	f.runs.responses[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/42"] = domain.Run{
		ID:       "42",
		Pipeline: "demo",
		State:    domain.RunStateQueued,
		Result:   domain.ResultUnknown,
	}
	ctx := context.Background()

	if _, err := f.rec.Handle(ctx, decodeEvent(t, `{"jenkins_event":"job_run_queued","blueocean_job_name":"demo","job_run_queueId":"7"}`)); err != nil {
		t.Fatalf("queued: %v", err)
	}
	runs := f.runsOf(t, "demo")
	want := domain.Run{QueueID: "7", Pipeline: "demo", State: domain.RunStateQueued, Result: domain.ResultUnknown}
	if len(runs) != 1 || runs[0] != want {
		t.Fatalf("after queued runs=%+v", runs)
	}

	out, err := f.rec.Handle(ctx, decodeEvent(t, `{"jenkins_event":"job_run_started","blueocean_job_name":"demo","job_run_queueId":"7","jenkins_object_id":"42"}`))
	if err != nil {
		t.Fatalf("started: %v", err)
	}
	runs = f.runsOf(t, "demo")
	if out != OutcomeApplied || len(runs) != 1 {
		t.Fatalf("after started outcome=%s runs=%+v", out, runs)
	}
	if runs[0].ID != "42" || runs[0].State != domain.RunStateRunning || runs[0].Result != domain.ResultUnknown || runs[0].Pipeline != "demo" {
		t.Fatalf("after started run=%+v", runs[0])
	}

	f.runs.mu.Lock()
	f.runs.errs[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/42"] = &backend.TransportError{URL: "x", StatusCode: 503, Status: "503 Service Unavailable"}
	f.runs.mu.Unlock()

	out, err = f.rec.Handle(ctx, decodeEvent(t, `{"jenkins_event":"job_run_ended","blueocean_job_name":"demo","jenkins_object_id":"42","job_run_status":"SUCCESS"}`))
	if err != nil {
		t.Fatalf("ended degraded: %v", err)
	}
	runs = f.runsOf(t, "demo")
	if out != OutcomeDegraded || len(runs) != 1 {
		t.Fatalf("after ended outcome=%s runs=%+v", out, runs)
	}
	if runs[0].ID != "42" || runs[0].State != domain.RunStateFinished || runs[0].Result != domain.ResultSuccess {
		t.Fatalf("after ended run=%+v", runs[0])
	}
	msgs := f.store.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].Type != domain.MessageError {
		t.Fatalf("messages=%+v", msgs)
	}
}

func TestDegradedRecordFromEventFieldsAlone(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo", domain.Run{ID: "1", Pipeline: "demo", State: domain.RunStateFinished, Result: domain.ResultSuccess})

	e := domain.Event{JenkinsEvent: domain.EventJobRunEnded, JobName: "demo", QueueID: "9", ObjectID: "2", RunStatus: "FAILURE"}
	out, err := f.rec.Handle(context.Background(), e)
	if err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	runs := f.runsOf(t, "demo")
	if out != OutcomeDegraded || len(runs) != 2 {
		t.Fatalf("outcome=%s runs=%+v", out, runs)
	}
	want := domain.Run{ID: "2", QueueID: "9", Pipeline: "demo", State: domain.RunStateFinished, Result: domain.ResultFailure}
	if runs[0] != want {
		t.Fatalf("degraded run=%+v, want %+v", runs[0], want)
	}
	if runs[1].ID != "1" {
		t.Fatalf("existing run moved: %+v", runs[1])
	}
}

func TestNoLostUpdatesAcrossInFlightFetch(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo", domain.Run{ID: "1", Pipeline: "demo", State: domain.RunStateQueued, Result: domain.ResultUnknown})
	f.runs.responses[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/1"] = domain.Run{ID: "1", Pipeline: "demo", Result: domain.ResultUnknown}
	f.runs.started = make(chan string, 1)
	f.runs.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "demo", ObjectID: "1"})
		done <- err
	}()
	<-f.runs.started

	// Event B lands while A's fetch is in flight.
	if _, err := f.rec.ProcessQueued(domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "demo", QueueID: "8"}); err != nil {
		t.Fatalf("queued: %v", err)
	}
	close(f.runs.gate)
	if err := <-done; err != nil {
		t.Fatalf("started: %v", err)
	}

	runs := f.runsOf(t, "demo")
	if len(runs) != 2 {
		t.Fatalf("runs=%+v, want 2 entries", runs)
	}
	if runs[0].QueueID != "8" || runs[0].State != domain.RunStateQueued {
		t.Fatalf("event B lost: %+v", runs[0])
	}
	if runs[1].ID != "1" || runs[1].State != domain.RunStateRunning {
		t.Fatalf("event A not applied in place: %+v", runs[1])
	}
}

func TestLifecycleNeverRegresses(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo", domain.Run{ID: "3", Pipeline: "demo", State: domain.RunStateRunning})
	f.runs.responses[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/3"] = domain.Run{ID: "3", Pipeline: "demo", State: domain.RunStateQueued}

	ch, cancel := f.store.Subscribe()
	defer cancel()
	var observed []domain.RunState
	collect := func() {
		for {
			select {
			case snap := <-ch:
				runs, _ := snap.RunsFor("demo")
				for _, run := range runs {
					if run.ID == "3" {
						observed = append(observed, run.State)
					}
				}
			default:
				return
			}
		}
	}

	ctx := context.Background()
	if _, err := f.rec.Handle(ctx, domain.Event{JenkinsEvent: domain.EventJobRunEnded, JobName: "demo", ObjectID: "3", RunStatus: "SUCCESS"}); err != nil {
		t.Fatalf("ended: %v", err)
	}
	collect()
	if _, err := f.rec.Handle(ctx, domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "demo", ObjectID: "3"}); err != nil {
		t.Fatalf("late started: %v", err)
	}
	collect()

	if len(observed) != 2 {
		t.Fatalf("observed=%v", observed)
	}
	prev := domain.RunState("")
	for _, state := range observed {
		if !domain.CanTransitionRunState(prev, state) {
			t.Fatalf("state regressed %s -> %s in %v", prev, state, observed)
		}
		prev = state
	}
	if got := f.runsOf(t, "demo")[0].State; got != domain.RunStateFinished {
		t.Fatalf("final state=%s, want FINISHED", got)
	}
}

func TestProvisionalPromotionKeepsIndex(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo",
		domain.Run{ID: "2", Pipeline: "demo", State: domain.RunStateFinished},
		domain.Run{ID: "1", Pipeline: "demo", State: domain.RunStateFinished},
	)
	f.runs.responses[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/3"] = domain.Run{ID: "3", Pipeline: "demo", State: domain.RunStateRunning}
	ctx := context.Background()

	for _, q := range []string{"30", "31"} {
		if _, err := f.rec.Handle(ctx, domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "demo", QueueID: q}); err != nil {
			t.Fatalf("queued %s: %v", q, err)
		}
	}
	before := f.runsOf(t, "demo")
	if len(before) != 4 || before[1].QueueID != "30" {
		t.Fatalf("before=%+v", before)
	}

	if _, err := f.rec.Handle(ctx, domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "demo", QueueID: "30", ObjectID: "3"}); err != nil {
		t.Fatalf("started: %v", err)
	}
	after := f.runsOf(t, "demo")
	if len(after) != 4 {
		t.Fatalf("promotion duplicated the run: %+v", after)
	}
	if after[1].ID != "3" || after[1].QueueID != "30" || after[1].Provisional() {
		t.Fatalf("promoted run at index 1=%+v", after[1])
	}
	if after[0].QueueID != "31" || !after[0].Provisional() {
		t.Fatalf("other provisional run changed: %+v", after[0])
	}
}

func TestEndedEventFallsBackToQueueID(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo", domain.Run{QueueID: "4", Pipeline: "demo", State: domain.RunStateQueued, Result: domain.ResultUnknown})
	f.runs.responses[baseURL+"/rest/organizations/jenkins/pipelines/demo/runs/12"] = domain.Run{ID: "12", Pipeline: "demo", Result: domain.ResultAborted}

	if _, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunEnded, JobName: "demo", QueueID: "4", ObjectID: "12"}); err != nil {
		t.Fatalf("ended: %v", err)
	}
	runs := f.runsOf(t, "demo")
	if len(runs) != 1 || runs[0].ID != "12" || runs[0].State != domain.RunStateFinished {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestCurrentRunsFollowCurrentPipeline(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Dispatch(
		store.SetPipelines{Pipelines: []domain.Pipeline{{Name: "demo"}}},
		store.SetPipeline{Name: "demo"},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.seedRuns(t, "demo")

	if _, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "demo", QueueID: "1"}); err != nil {
		t.Fatalf("queued: %v", err)
	}
	if cur := f.store.Snapshot().CurrentRuns; len(cur) != 1 || cur[0].QueueID != "1" {
		t.Fatalf("CurrentRuns=%+v", cur)
	}
}

func TestBranchStateUpdatedForMultiBranchEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Dispatch(store.SetBranches{Pipeline: "app", Branches: []domain.Branch{
		{Name: "main", Organization: "jenkins", LatestRun: &domain.Run{ID: "1", Pipeline: "main", State: domain.RunStateFinished}},
		{Name: "feature/x", Organization: "jenkins"},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.branches.responses[baseURL+"/rest/organizations/jenkins/pipelines/app/branches/feature%252Fx"] = domain.Branch{
		Name:         "feature/x",
		Organization: "jenkins",
		LatestRun:    &domain.Run{ID: "2", Pipeline: "feature/x", State: domain.RunStateQueued},
	}

	e := domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "app", BranchName: "feature/x", IsMultiBranch: true, ObjectID: "2"}
	if _, err := f.rec.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle() err=%v", err)
	}

	snap := f.store.Snapshot()
	branches := snap.Branches["app"]
	if len(branches) != 2 || branches[1].LatestRun == nil || branches[1].LatestRun.State != domain.RunStateRunning {
		t.Fatalf("branches=%+v", branches)
	}
	if branches[0].LatestRun.ID != "1" {
		t.Fatalf("other branch touched: %+v", branches[0])
	}
	if len(snap.CurrentBranches) != 2 {
		t.Fatalf("CurrentBranches=%+v", snap.CurrentBranches)
	}
	if len(f.runs.calls) != 0 {
		t.Fatalf("runs fetched for uncached run collection: %v", f.runs.calls)
	}
}

func TestBranchFetchFailureAppendsMessage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Dispatch(store.SetBranches{Pipeline: "app", Branches: []domain.Branch{{Name: "main"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := domain.Event{JenkinsEvent: domain.EventJobRunEnded, JobName: "app", BranchName: "main", IsMultiBranch: true, ObjectID: "1"}
	if _, err := f.rec.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	msgs := f.store.Snapshot().Messages
	if len(msgs) != 1 {
		t.Fatalf("messages=%+v", msgs)
	}
	if branches := f.store.Snapshot().Branches["app"]; branches[0].LatestRun != nil {
		t.Fatalf("failed fetch changed branch: %+v", branches[0])
	}
}

func TestHandleReturnsErrClosed(t *testing.T) {
	f := newFixture(t)
	f.seedRuns(t, "demo")
	f.store.Close()
	_, err := f.rec.Handle(context.Background(), domain.Event{JenkinsEvent: domain.EventJobRunQueued, JobName: "demo", QueueID: "1"})
	if !errors.Is(err, store.ErrClosed) || !IsTerminal(err) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestStartedEventAppliedWhenCallerGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/organizations/jenkins/pipelines/demo/runs/42" {
			http.NotFound(w, r)
			return
		}
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"42","pipeline":"demo","state":"QUEUED","result":"UNKNOWN"}`))
	}))
	defer srv.Close()

	client := backend.NewWithHTTPClient(backend.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, srv.Client())
	runs := fetchcache.New[domain.Run]("run", fetchcache.JSON[domain.Run](client.GetJSON), nil)
	branches := fetchcache.New[domain.Branch]("branch", fetchcache.JSON[domain.Branch](client.GetJSON), nil)
	st := store.New(nil, nil)
	defer st.Close()
	rec := New(st, runs, branches, Config{BaseURL: srv.URL, Organization: "jenkins"}, nil, nil)

	if _, err := st.Dispatch(store.SetRuns{Pipeline: "demo", Runs: []domain.Run{
		{QueueID: "7", Pipeline: "demo", State: domain.RunStateQueued, Result: domain.ResultUnknown},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	e := domain.Event{JenkinsEvent: domain.EventJobRunStarted, JobName: "demo", QueueID: "7", ObjectID: "42"}
	outcome, err := rec.Handle(ctx, e)
	if err != nil {
		t.Fatalf("Handle() err=%v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome=%s, want applied", outcome)
	}

	got, _ := st.Snapshot().RunsFor("demo")
	if len(got) != 1 || got[0].ID != "42" || got[0].QueueID != "7" || got[0].State != domain.RunStateRunning {
		t.Fatalf("runs=%+v", got)
	}
}

func TestBranchUpdatedWhenCallerCancelled(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Dispatch(store.SetBranches{Pipeline: "app", Branches: []domain.Branch{{Name: "main", Organization: "jenkins"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.branches.responses[baseURL+"/rest/organizations/jenkins/pipelines/app/branches/main"] = domain.Branch{
		Name:         "main",
		Organization: "jenkins",
		LatestRun:    &domain.Run{ID: "3", Pipeline: "main", State: domain.RunStateRunning},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := domain.Event{JenkinsEvent: domain.EventJobRunEnded, JobName: "app", BranchName: "main", IsMultiBranch: true, ObjectID: "3"}
	if _, err := f.rec.Handle(ctx, e); err != nil {
		t.Fatalf("Handle() err=%v", err)
	}

	branches := f.store.Snapshot().Branches["app"]
	if branches[0].LatestRun == nil || branches[0].LatestRun.State != domain.RunStateFinished {
		t.Fatalf("branches=%+v", branches)
	}
	if msgs := f.store.Snapshot().Messages; len(msgs) != 0 {
		t.Fatalf("messages=%+v", msgs)
	}
}
