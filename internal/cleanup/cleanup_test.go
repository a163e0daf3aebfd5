package cleanup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func TestManager_RunsLIFO(t *testing.T) {
	cm := NewManager(zaptest.NewLogger(t))
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		cm.Add(func() error {
			order = append(order, i)
			return nil
		})
	}
	cm.Add(nil)

	require.NoError(t, cm.Execute())
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.True(t, cm.Executed())
}

func TestManager_CombinesErrorsAndContinues(t *testing.T) {
	cm := NewManager(zaptest.NewLogger(t))
	errA := errors.New("a")
	errB := errors.New("b")
	var ran atomic.Int32

	cm.Add(func() error { ran.Add(1); return errA })
	cm.Add(func() error { ran.Add(1); return nil })
	cm.Add(func() error { ran.Add(1); return errB })

	err := cm.Execute()
	require.Error(t, err)
	assert.EqualValues(t, 3, ran.Load())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestManager_ExecutesOnce(t *testing.T) {
	cm := NewManager(zaptest.NewLogger(t))
	var calls atomic.Int32
	boom := errors.New("boom")
	cm.Add(func() error { calls.Add(1); return boom })

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = cm.Execute()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom, "every caller sees the same result")
	}
}

func TestManager_AddAfterExecuteIsIgnored(t *testing.T) {
	cm := NewManager(zaptest.NewLogger(t))
	require.NoError(t, cm.Execute())

	var ran bool
	cm.Add(func() error { ran = true; return nil })
	require.NoError(t, cm.Execute())
	assert.False(t, ran)
}
