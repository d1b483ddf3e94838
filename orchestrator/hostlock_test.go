package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHostLockRegistryCanonicalizesHost(t *testing.T) {
	reg := NewHostLockRegistry()
	a := reg.Get("ESX01.Lab.Local")
	b := reg.Get(" esx01.lab.local ")
	c := reg.Get("esx02.lab.local")

	assert.Same(t, a, b, "case and whitespace variants share one lock")
	assert.NotSame(t, a, c)
}

func TestHostLockSerializesAccess(t *testing.T) {
	reg := NewHostLockRegistry()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk := reg.Get("hv01")
			lk.Lock()
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
			lk.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical)
}
