package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-gl/internal/budget"
	"github.com/odyssey-erp/odyssey-gl/internal/posting"
)

type recorder struct{ seen []string }

func (r *recorder) ObserveJob(task, status string) { r.seen = append(r.seen, task+"/"+status) }

type stubPoster struct {
	got   posting.Event
	entry *journals.JournalEntry
	err   error
}

func (s *stubPoster) Handle(ctx context.Context, ev posting.Event) (*journals.JournalEntry, error) {
	s.got = ev
	return s.entry, s.err
}

func invoiceEvent() posting.Event {
	return posting.Event{
		Type:            "sales.invoice.posted",
		ReferenceNumber: "INV-7",
		Date:            time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Payload:         payload.Payload{"totals.net": decimal.RequireFromString("1000.10"), "number": "INV-7"},
	}
}

func postingTask(t *testing.T, ev posting.Event) *asynq.Task {
	t.Helper()
	task, err := NewPostingEventTask(ev)
	require.NoError(t, err)
	return task
}

func TestPostingEventTaskKeepsAmountsExact(t *testing.T) {
	task := postingTask(t, invoiceEvent())
	require.Equal(t, TaskPostingEvent, task.Type())

	ev, err := decodeEvent(task.Payload())
	require.NoError(t, err)
	net, err := payload.ResolveAmount(ev.Payload, "totals.net")
	require.NoError(t, err)
	require.True(t, net.Equal(decimal.RequireFromString("1000.10")))
	require.True(t, ev.Date.Equal(invoiceEvent().Date))
}

func TestTaskIDIsDeterministic(t *testing.T) {
	a := TaskID(TaskPostingEvent, "sales.invoice.posted|INV-7")
	b := TaskID(TaskPostingEvent, "sales.invoice.posted|INV-7")
	c := TaskID(TaskPostingEvent, "sales.invoice.posted|INV-8")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestPostingEventJobOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
		wantErr   bool
		status    string
	}{
		{name: "posted", status: "success"},
		{name: "duplicate", err: accounting.ErrDuplicateReference, status: "duplicate"},
		{name: "unbalanced", err: &accounting.UnbalancedEntryError{Debit: decimal.NewFromInt(1), Credit: decimal.NewFromInt(2)}, wantErr: true, skipRetry: true, status: "rejected"},
		{name: "locked", err: &accounting.PeriodLockedError{PeriodID: 1, Name: "2024-01"}, wantErr: true, skipRetry: true, status: "rejected"},
		{name: "transient", err: errors.New("connection reset"), wantErr: true, status: "failure"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			poster := &stubPoster{entry: &journals.JournalEntry{ID: 3}, err: tc.err}
			job := NewPostingEventJob(poster, slog.Default(), rec)

			err := job.Handle(context.Background(), postingTask(t, invoiceEvent()))
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
			require.Equal(t, []string{TaskPostingEvent + "/" + tc.status}, rec.seen)
			require.Equal(t, "INV-7", poster.got.ReferenceNumber)
		})
	}
}

func TestPostingEventJobRejectsGarbage(t *testing.T) {
	rec := &recorder{}
	job := NewPostingEventJob(&stubPoster{}, slog.Default(), rec)
	err := job.Handle(context.Background(), asynq.NewTask(TaskPostingEvent, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []string{TaskPostingEvent + "/invalid"}, rec.seen)
}

type stubReleaser struct {
	got      budget.Encumberable
	released int
	err      error
}

func (s *stubReleaser) ReleaseSource(ctx context.Context, source budget.Encumberable) (int, error) {
	s.got = source
	return s.released, s.err
}

func TestBudgetReleaseJob(t *testing.T) {
	task, err := NewBudgetReleaseTask(budget.PurchaseOrder(42), "po cancelled")
	require.NoError(t, err)

	rec := &recorder{}
	releaser := &stubReleaser{released: 2}
	require.NoError(t, NewBudgetReleaseJob(releaser, slog.Default(), rec).Handle(context.Background(), task))
	require.Equal(t, budget.PurchaseOrder(42), releaser.got)
	require.Equal(t, []string{TaskBudgetRelease + "/success"}, rec.seen)

	releaser.err = errors.New("db down")
	require.Error(t, NewBudgetReleaseJob(releaser, slog.Default(), rec).Handle(context.Background(), task))
	require.Equal(t, TaskBudgetRelease+"/failure", rec.seen[1])
}

func TestBudgetReleaseTaskValidatesSource(t *testing.T) {
	_, err := NewBudgetReleaseTask(budget.Encumberable{Kind: "INVOICE", ID: 1}, "")
	require.ErrorIs(t, err, budget.ErrInvalidSource)
}

type stubFinder struct {
	since time.Time
	found []journals.Imbalance
	tb    reports.TrialBalance
}

func (s *stubFinder) Imbalances(ctx context.Context, since time.Time) ([]journals.Imbalance, error) {
	s.since = since
	return s.found, nil
}

func (s *stubFinder) TrialBalance(ctx context.Context) (reports.TrialBalance, error) {
	return s.tb, nil
}

func TestLedgerIntegrityJob(t *testing.T) {
	finder := &stubFinder{}
	rec := &recorder{}
	job := NewLedgerIntegrityJob(finder, slog.Default(), rec)
	job.clock = func() time.Time { return time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC) }

	task, err := NewLedgerIntegrityTask(30)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), finder.since)

	finder.found = []journals.Imbalance{{EntryID: 9, Reference: "JE-9", Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(7), Lines: 2}}
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerImbalanced)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []string{TaskLedgerIntegrity + "/success", TaskLedgerIntegrity + "/violations"}, rec.seen)
}

func TestLedgerIntegrityJobChecksTrialBalance(t *testing.T) {
	finder := &stubFinder{tb: reports.BuildTrialBalance([]reports.AccountBalance{
		{Code: "1000", Debit: decimal.RequireFromString("50.00")},
		{Code: "4000", Credit: decimal.RequireFromString("49.99")},
	})}
	rec := &recorder{}
	job := NewLedgerIntegrityJob(finder, slog.Default(), rec)

	task, err := NewLedgerIntegrityTask(7)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerImbalanced)
	require.Equal(t, []string{TaskLedgerIntegrity + "/violations"}, rec.seen)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientEnqueueEvent(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	id, err := client.EnqueueEvent(context.Background(), invoiceEvent())
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Len(t, fake.tasks, 1)

	fake.err = asynq.ErrTaskIDConflict
	id, err = client.EnqueueEvent(context.Background(), invoiceEvent())
	require.NoError(t, err)
	require.Equal(t, TaskID(TaskPostingEvent, "sales.invoice.posted|INV-7"), id)
}

type stubInspector struct{ infos map[string]*asynq.QueueInfo }

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestJobsHealth(t *testing.T) {
	h := &Handler{
		inspector: stubInspector{infos: map[string]*asynq.QueueInfo{QueueLedger: {Queue: QueueLedger, Pending: 4, Retry: 1}}},
		logger:    slog.Default(),
	}
	r := chi.NewRouter()
	h.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, 4, body.Queues[0].Pending)
	require.Equal(t, QueueDefault, body.Queues[1].Queue)
}

type stubCleaner struct{ olderThan time.Duration }

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return 3, nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &stubCleaner{}
	rec := &recorder{}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	require.NoError(t, NewIdempotencyCleanupJob(cleaner, slog.Default(), rec).Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.olderThan)
	require.Equal(t, []string{TaskIdempotencyCleanup + "/success"}, rec.seen)
}
