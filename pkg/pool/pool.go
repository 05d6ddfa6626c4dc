// Package pool provides slice pooling for vecadd host vectors.
//
// Host vectors are large (4 MiB each at the default length) and a process
// that runs the pipeline more than once, such as the test suite or a
// repeated benchmark run, would otherwise allocate three of them per run.
// Pooling reuses the backing arrays instead.
//
// Usage:
//
//	a := pool.GetInt32Slice(n)
//	defer pool.PutInt32Slice(a)
//
//	// Use the slice...
//	for i := range a {
//		a[i] = 1
//	}
package pool

import (
	"sync"
)

// PoolConfig configures pooling behavior.
//
// Fields:
//   - Enabled: Controls whether pooling is active (disable for debugging)
//   - MaxElements: Largest slice capacity kept in the pool
//
// Example:
//
//	pool.Configure(pool.PoolConfig{
//		Enabled:     true,
//		MaxElements: 1 << 22,
//	})
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxElements limits the capacity of slices returned to the pool
	MaxElements int
}

// DefaultMaxElements keeps slices up to 16 MiB of int32.
const DefaultMaxElements = 1 << 22

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled:     true,
		MaxElements: DefaultMaxElements,
	}
)

// Configure sets the global pool configuration and drops pooled slices.
//
// Call it during initialization, before host vectors are allocated.
func Configure(config PoolConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = config
	int32SlicePool = sync.Pool{}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig.Enabled
}

func config() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// =============================================================================
// Int32 Slice Pool (host vectors)
// =============================================================================

var int32SlicePool sync.Pool

// GetInt32Slice returns a zeroed slice of length n.
//
// The slice comes from the pool when one of sufficient capacity is
// available. Always call PutInt32Slice when done.
func GetInt32Slice(n int) []int32 {
	if n <= 0 {
		return nil
	}
	if !IsEnabled() {
		return make([]int32, n)
	}
	if p, ok := int32SlicePool.Get().(*[]int32); ok && cap(*p) >= n {
		s := (*p)[:n]
		clear(s)
		return s
	} else if ok {
		// Too small for this request; keep it for a smaller one.
		int32SlicePool.Put(p)
	}
	return make([]int32, n)
}

// PutInt32Slice returns a slice to the pool for reuse.
//
// Slices larger than MaxElements are not pooled.
func PutInt32Slice(s []int32) {
	cfg := config()
	if !cfg.Enabled || cap(s) == 0 {
		return
	}
	if cfg.MaxElements > 0 && cap(s) > cfg.MaxElements {
		return
	}
	s = s[:0]
	int32SlicePool.Put(&s)
}
