package trading

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, locks.len())
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	locks := newUserLocks()

	unlockA := locks.lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock(2)
		unlockB()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, locks.len())
	unlockA()
	assert.Equal(t, 0, locks.len())
}

func TestOrderError_StatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrInvalidOrder, 400},
		{ErrPriceUnavailable, 400},
		{ErrInsufficientBalance, 400},
		{ErrInsufficientHoldings, 400},
		{ErrUnknownUser, 404},
		{ErrLedger, 500},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, reject(StageValidated, tt.err).StatusCode())
		})
	}
}
