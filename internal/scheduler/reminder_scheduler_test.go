package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/metrics"
)

type memoryReminderStore struct {
	mu        sync.Mutex
	reminders []*database.FilingReminder
}

func (s *memoryReminderStore) Create(_ context.Context, reminder *database.FilingReminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reminders {
		if existing.DedupeKey == reminder.DedupeKey {
			return false, nil
		}
	}
	s.reminders = append(s.reminders, reminder)
	return true, nil
}

func (s *memoryReminderStore) ListDue(_ context.Context, now time.Time) ([]*database.FilingReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*database.FilingReminder
	for _, r := range s.reminders {
		if !r.Sent && !r.ReminderDate.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *memoryReminderStore) MarkSent(_ context.Context, reminderID string, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.ID == reminderID {
			if r.Sent {
				return false, nil
			}
			r.Sent = true
			r.SentAt = &sentAt
			return true, nil
		}
	}
	return false, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []*database.FilingReminder
	failOn map[string]error
}

func (n *recordingNotifier) NotifyReminder(_ context.Context, reminder *database.FilingReminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failOn[reminder.ID]; err != nil {
		return err
	}
	n.sent = append(n.sent, reminder)
	return nil
}

func (n *recordingNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]interface{}) {}

type schedulerFixture struct {
	scheduler *ReminderScheduler
	store     *memoryReminderStore
	notifier  *recordingNotifier
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			UrgentThresholdDays: 7,
			DispatchSchedule:    "0 */15 * * * *",
			DispatchTimeout:     30 * time.Second,
		},
	}
	store := &memoryReminderStore{}
	notifier := &recordingNotifier{failOn: map[string]error{}}
	collector := metrics.NewCollector(prometheus.NewRegistry(), func() int64 { return 0 })

	return &schedulerFixture{
		scheduler: NewReminderScheduler(cfg, zap.NewNop(), store, notifier, nopPublisher{}, collector),
		store:     store,
		notifier:  notifier,
	}
}

func quarterlyTemplate() *database.WorkflowTemplate {
	return &database.WorkflowTemplate{
		ID:       "wf-13f",
		TenantID: "tenant-1",
		Schedule: database.ScheduleSpec{
			Frequency:         "quarterly",
			DueDateOffsetDays: 45,
			Reminders: []database.ReminderSpec{
				{DaysBeforeDue: 30, RecipientRoles: []string{"analyst", "compliance_officer"}},
				{DaysBeforeDue: 7, RecipientRoles: []string{"compliance_officer"}},
			},
		},
	}
}

func executionDue(dueDate time.Time) *database.WorkflowExecution {
	return &database.WorkflowExecution{
		ID:       "exec-1",
		TenantID: "tenant-1",
		FilingID: "filing-1",
		DueDate:  dueDate,
	}
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	dueDate := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	t.Run("materializes one reminder per rule with urgency from the window", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		require.NoError(t, fx.scheduler.Schedule(ctx, quarterlyTemplate(), executionDue(dueDate)))

		require.Len(t, fx.store.reminders, 2)

		initial := fx.store.reminders[0]
		assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), initial.ReminderDate)
		assert.Equal(t, database.ReminderTypeInitial, initial.ReminderType)
		assert.ElementsMatch(t, []string{"analyst", "compliance_officer"}, []string(initial.Recipients))

		urgent := fx.store.reminders[1]
		assert.Equal(t, time.Date(2024, 6, 23, 0, 0, 0, 0, time.UTC), urgent.ReminderDate)
		assert.Equal(t, database.ReminderTypeUrgent, urgent.ReminderType)
	})

	t.Run("a rule exactly at the urgent threshold is urgent", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		tpl := quarterlyTemplate()
		tpl.Schedule.Reminders = []database.ReminderSpec{
			{DaysBeforeDue: 7, RecipientRoles: []string{"analyst"}},
			{DaysBeforeDue: 8, RecipientRoles: []string{"analyst"}},
		}
		require.NoError(t, fx.scheduler.Schedule(ctx, tpl, executionDue(dueDate)))

		require.Len(t, fx.store.reminders, 2)
		assert.Equal(t, database.ReminderTypeUrgent, fx.store.reminders[0].ReminderType)
		assert.Equal(t, database.ReminderTypeInitial, fx.store.reminders[1].ReminderType)
	})

	t.Run("rescheduling the same execution creates no duplicates", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		tpl := quarterlyTemplate()
		exec := executionDue(dueDate)

		require.NoError(t, fx.scheduler.Schedule(ctx, tpl, exec))
		require.NoError(t, fx.scheduler.Schedule(ctx, tpl, exec))

		assert.Len(t, fx.store.reminders, 2)
	})

	t.Run("dedupe key ignores recipient ordering", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		tpl := quarterlyTemplate()
		tpl.Schedule.Reminders = []database.ReminderSpec{
			{DaysBeforeDue: 30, RecipientRoles: []string{"analyst", "compliance_officer"}},
		}
		require.NoError(t, fx.scheduler.Schedule(ctx, tpl, executionDue(dueDate)))

		tpl.Schedule.Reminders[0].RecipientRoles = []string{"compliance_officer", "analyst"}
		require.NoError(t, fx.scheduler.Schedule(ctx, tpl, executionDue(dueDate)))

		assert.Len(t, fx.store.reminders, 1)
	})
}

func TestDispatchDue(t *testing.T) {
	ctx := context.Background()
	dueDate := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	t.Run("sends only reminders whose date has arrived", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		require.NoError(t, fx.scheduler.Schedule(ctx, quarterlyTemplate(), executionDue(dueDate)))

		// 2024-06-10 is past the 30-day reminder but before the 7-day one.
		dispatched, err := fx.scheduler.DispatchDue(ctx, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 1, dispatched)
		require.Equal(t, 1, fx.notifier.sentCount())
		assert.Equal(t, database.ReminderTypeInitial, fx.notifier.sent[0].ReminderType)
	})

	t.Run("repeated sweeps send at most once", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		require.NoError(t, fx.scheduler.Schedule(ctx, quarterlyTemplate(), executionDue(dueDate)))
		now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

		dispatched, err := fx.scheduler.DispatchDue(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, dispatched)

		dispatched, err = fx.scheduler.DispatchDue(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 0, dispatched)
		assert.Equal(t, 2, fx.notifier.sentCount())
	})

	t.Run("concurrent sweeps send at most once", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		require.NoError(t, fx.scheduler.Schedule(ctx, quarterlyTemplate(), executionDue(dueDate)))
		now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

		var wg sync.WaitGroup
		total := make(chan int, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := fx.scheduler.DispatchDue(ctx, now)
				assert.NoError(t, err)
				total <- n
			}()
		}
		wg.Wait()
		close(total)

		sum := 0
		for n := range total {
			sum += n
		}
		assert.Equal(t, 2, sum)
		assert.Equal(t, 2, fx.notifier.sentCount())
	})

	t.Run("a failed send after the claim is not retried", func(t *testing.T) {
		fx := newSchedulerFixture(t)
		require.NoError(t, fx.scheduler.Schedule(ctx, quarterlyTemplate(), executionDue(dueDate)))
		now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

		fx.notifier.failOn[fx.store.reminders[0].ID] = errors.New("smtp unavailable")

		dispatched, err := fx.scheduler.DispatchDue(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, dispatched)

		// The claimed-but-failed reminder stays claimed.
		dispatched, err = fx.scheduler.DispatchDue(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 0, dispatched)
		assert.Equal(t, 1, fx.notifier.sentCount())
	})
}

func TestDedupeKey(t *testing.T) {
	date := time.Date(2024, 5, 31, 15, 4, 5, 0, time.UTC)

	key := dedupeKey("wf-1", date, []string{"b", "a"})
	assert.Equal(t, "wf-1|2024-05-31|a,b", key)

	// Time-of-day does not split the key.
	assert.Equal(t, key, dedupeKey("wf-1", date.Add(3*time.Hour), []string{"a", "b"}))
	assert.NotEqual(t, key, dedupeKey("wf-2", date, []string{"a", "b"}))
}
