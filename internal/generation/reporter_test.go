package generation

import (
	"sync"
	"testing"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterAssignsIncreasingSeq(t *testing.T) {
	r := NewReporter("run-1", 10, 10, nil)
	sub := r.Subscribe()

	for i := 0; i < 5; i++ {
		ev, err := r.Publish(models.ProgressEvent{Type: models.EventScenarioStarted})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
		assert.False(t, ev.Timestamp.IsZero())
	}
	_, err := r.Publish(models.ProgressEvent{Type: models.EventComplete})
	require.NoError(t, err)

	events := collect(sub)
	require.Len(t, events, 6)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, int64(6), r.LastSeq())
}

func TestReporterReplaysBacklog(t *testing.T) {
	r := NewReporter("run-1", 3, 10, nil)
	for i := 0; i < 5; i++ {
		_, err := r.Publish(models.ProgressEvent{Type: models.EventScenarioStarted})
		require.NoError(t, err)
	}

	recent := r.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].Seq)

	sub := r.Subscribe()
	_, err := r.Publish(models.ProgressEvent{Type: models.EventComplete})
	require.NoError(t, err)

	events := collect(sub)
	var seqs []int64
	for _, ev := range events {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{3, 4, 5, 6}, seqs)
}

func TestReporterZeroBacklogDisablesReplay(t *testing.T) {
	r := NewReporter("run-1", 0, 10, nil)
	_, err := r.Publish(models.ProgressEvent{Type: models.EventStart})
	require.NoError(t, err)

	assert.Empty(t, r.Recent())
	sub := r.Subscribe()
	r.Close()
	assert.Empty(t, collect(sub))
}

func TestReporterDropsSlowSubscriber(t *testing.T) {
	r := NewReporter("run-1", 0, 10, nil)
	slow := r.SubscribeWithBuffer(2)
	fast := r.SubscribeWithBuffer(100)

	for i := 0; i < 10; i++ {
		_, err := r.Publish(models.ProgressEvent{Type: models.EventScenarioStarted})
		require.NoError(t, err, "publisher must not block on a slow subscriber")
	}

	assert.True(t, slow.Dropped())
	assert.False(t, fast.Dropped())
	assert.Len(t, collect(slow), 2, "dropped subscriber keeps what it had buffered")

	r.Close()
	assert.Len(t, collect(fast), 10)
}

func TestReporterRejectsAfterTerminal(t *testing.T) {
	r := NewReporter("run-1", 10, 10, nil)
	_, err := r.Publish(models.ProgressEvent{Type: models.EventError, Error: CodeCancelled})
	require.NoError(t, err)

	_, err = r.Publish(models.ProgressEvent{Type: models.EventStoring})
	assert.ErrorIs(t, err, ErrReporterClosed)

	late := r.Subscribe()
	events := collect(late)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
}

func TestSubscriptionClose(t *testing.T) {
	r := NewReporter("run-1", 0, 10, nil)
	sub := r.Subscribe()
	sub.Close()
	sub.Close()

	_, err := r.Publish(models.ProgressEvent{Type: models.EventStart})
	require.NoError(t, err)
	assert.Empty(t, collect(sub))
}

func TestReporterConcurrentPublishers(t *testing.T) {
	r := NewReporter("run-1", 0, 1000, nil)
	subs := []*Subscription{r.Subscribe(), r.Subscribe()}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = r.Publish(models.ProgressEvent{Type: models.EventScenarioStarted})
			}
		}()
	}
	wg.Wait()
	r.Close()

	for _, sub := range subs {
		events := collect(sub)
		require.Len(t, events, 200)
		for i := 1; i < len(events); i++ {
			assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
		}
	}
}
