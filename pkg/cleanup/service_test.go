package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

type fakePurger struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
}

func (f *fakePurger) DeleteTerminalCommandsBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

func (f *fakePurger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestService_PurgesOnStartAndInterval(t *testing.T) {
	purger := &fakePurger{}
	svc := NewService(&config.RetentionConfig{
		CommandRetentionDays: 7,
		CleanupInterval:      20 * time.Millisecond,
	}, purger)

	svc.Start(context.Background())
	defer svc.Stop()

	// One run happens immediately, then the ticker takes over.
	require.Eventually(t, func() bool { return purger.callCount() >= 2 },
		2*time.Second, 5*time.Millisecond)

	purger.mu.Lock()
	defer purger.mu.Unlock()
	expected := time.Now().AddDate(0, 0, -7)
	assert.WithinDuration(t, expected, purger.cutoffs[0], time.Minute)
}

func TestService_StopWaitsForLoop(t *testing.T) {
	purger := &fakePurger{}
	svc := NewService(&config.RetentionConfig{
		CommandRetentionDays: 7,
		CleanupInterval:      time.Hour,
	}, purger)

	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, 1, purger.callCount())

	// Stop is idempotent.
	svc.Stop()
}
