package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Keys())
}

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestRegisterOverwriteKeepsPosition(t *testing.T) {
	r := New[string, string]()
	r.Register("a", "1")
	r.Register("b", "2")
	r.Register("a", "3")

	assert.Equal(t, []string{"a", "b"}, r.Keys())
	assert.Equal(t, []string{"3", "2"}, r.Values())
}

func TestAdd(t *testing.T) {
	r := New[string, int]()
	assert.True(t, r.Add("a", 1))
	assert.False(t, r.Add("a", 2))

	v, _ := r.Get("a")
	assert.Equal(t, 1, v)
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	r.Delete("b")
	r.Delete("missing")

	assert.False(t, r.Has("b"))
	assert.Equal(t, []string{"a", "c"}, r.Keys())
	assert.Equal(t, 2, r.Len())

	r.Register("b", 4)
	assert.Equal(t, []string{"a", "c", "b"}, r.Keys())
}

func TestRangeOrderAndEarlyStop(t *testing.T) {
	r := New[int, string]()
	for i := 5; i > 0; i-- {
		r.Register(i, fmt.Sprint(i))
	}

	var visited []int
	r.Range(func(k int, _ string) bool {
		visited = append(visited, k)
		return len(visited) < 3
	})
	assert.Equal(t, []int{5, 4, 3}, visited)
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)

	count := 0
	r.Range(func(k string, _ int) bool {
		r.Delete(k)
		r.Register(k+"-new", 0)
		count++
		return true
	})

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"one-new", "two-new"}, r.Keys())
}

func TestGetOrCreate(t *testing.T) {
	r := New[string, int]()
	calls := 0
	factory := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 1, calls)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := New[string, *sync.Mutex]()

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]*sync.Mutex, 100)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("shared", func() *sync.Mutex {
				calls.Add(1)
				return &sync.Mutex{}
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, m := range results {
		require.Same(t, results[0], m)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	r := New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(i, i*i)
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = r.Values()
			_, _ = r.Get(i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	assert.Len(t, r.Keys(), 50)
}
