package workload_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mantyx/mantyx/workload"
)

func TestLocksSerializePerWorkload(t *testing.T) {
	locks := workload.NewLocks()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Acquire(1)
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "same-id sections must not overlap")
}

func TestLocksIndependentAcrossWorkloads(t *testing.T) {
	locks := workload.NewLocks()

	unlock1 := locks.Acquire(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := locks.Acquire(2)
		unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different workload id blocked")
	}
}
