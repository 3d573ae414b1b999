package builtin

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/store"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]store.JobRecord
	deleted []string
}

func newFakeJobStore(records ...store.JobRecord) *fakeJobStore {
	f := &fakeJobStore{jobs: make(map[string]store.JobRecord)}
	for _, rec := range records {
		f.jobs[rec.ID] = rec
	}
	return f
}

func (f *fakeJobStore) Ban(ctx context.Context, jid string) error      { return nil }
func (f *fakeJobStore) Unban(ctx context.Context, jid string) error    { return nil }
func (f *fakeJobStore) SetMode(ctx context.Context, mode string) error { return nil }

func (f *fakeJobStore) SaveJob(ctx context.Context, rec store.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[rec.ID] = rec
	return nil
}

func (f *fakeJobStore) DeleteJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, name string) ([]store.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.JobRecord
	for _, rec := range f.jobs {
		if rec.Plugin == name {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func reminderLoadContext(st plugin.Store, sch *sched.Scheduler) *plugin.LoadContext {
	return &plugin.LoadContext{
		Logger: log.New(io.Discard, "", 0),
		Store:  st,
		Sched:  sch,
	}
}

func TestReminderRecordsRestoredOnLoad(t *testing.T) {
	st := newFakeJobStore(
		store.JobRecord{
			ID: "rem_keep1234", Plugin: "reminder",
			Expression: "0 10 * * 1", Timezone: "Africa/Lagos",
			Payload: map[string]string{"to": "2348011111111@s.whatsapp.net", "text": "standup"},
		},
		store.JobRecord{
			ID: "rem_badcron1", Plugin: "reminder",
			Expression: "every tuesday", Timezone: "Africa/Lagos",
			Payload: map[string]string{"to": "2348011111111@s.whatsapp.net", "text": "broken"},
		},
	)
	sch := sched.New(func() sched.Deps { return sched.Deps{} })
	defer sch.StopAll()

	r := &reminderPlugin{live: make(map[string]bool)}
	require.NoError(t, r.OnLoad(context.Background(), reminderLoadContext(st, sch)))

	require.Equal(t, 1, sch.Len(), "only the restorable record comes back")
	jobs := sch.List()
	assert.Equal(t, "rem_keep1234", jobs[0].ID)
	assert.Equal(t, "0 10 * * 1", jobs[0].Expression)

	assert.Equal(t, []string{"rem_badcron1"}, st.deleted, "unrestorable record dropped")
	remaining, err := st.ListJobs(context.Background(), "reminder")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "rem_keep1234", remaining[0].ID)
}

func TestReminderUnloadCancelsJobsKeepsRecords(t *testing.T) {
	st := newFakeJobStore(store.JobRecord{
		ID: "rem_keep1234", Plugin: "reminder",
		Expression: "0 10 * * 1", Timezone: "Africa/Lagos",
		Payload: map[string]string{"to": "x@s.whatsapp.net", "text": "standup"},
	})
	sch := sched.New(func() sched.Deps { return sched.Deps{} })
	defer sch.StopAll()

	r := &reminderPlugin{live: make(map[string]bool)}
	require.NoError(t, r.OnLoad(context.Background(), reminderLoadContext(st, sch)))
	require.Equal(t, 1, sch.Len())

	r.OnUnload()
	assert.Equal(t, 0, sch.Len(), "live jobs cancelled")

	// The durable record stays; the next OnLoad restores the job.
	require.NoError(t, r.OnLoad(context.Background(), reminderLoadContext(st, sch)))
	assert.Equal(t, 1, sch.Len())
}

func TestReminderLoadWithoutStoreIsNoOp(t *testing.T) {
	sch := sched.New(func() sched.Deps { return sched.Deps{} })
	defer sch.StopAll()

	r := &reminderPlugin{live: make(map[string]bool)}
	require.NoError(t, r.OnLoad(context.Background(), reminderLoadContext(nil, sch)))
	assert.Equal(t, 0, sch.Len())
}
