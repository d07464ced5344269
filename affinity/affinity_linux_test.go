//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-evloop/affinity"
	"github.com/stretchr/testify/assert"
)

func TestSetAffinityPinsLockedThread(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// keep the pinned thread out of the scheduler pool afterwards
		runtime.LockOSThread()
		allowed, err := affinity.Affinity()
		if !assert.NoError(t, err) || !assert.NotEmpty(t, allowed) {
			return
		}
		if !assert.NoError(t, affinity.SetAffinity(allowed[0])) {
			return
		}
		cpus, err := affinity.Affinity()
		assert.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, cpus)
	}()
	<-done
}

func TestSetAffinityRejectsOutOfRange(t *testing.T) {
	assert.Error(t, affinity.SetAffinity(-1))
	assert.Error(t, affinity.SetAffinity(1 << 20))
}
