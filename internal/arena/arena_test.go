package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/mbpool/internal/format"
)

func Test_Arena_CarveIsPageAligned(t *testing.T) {
	a, err := New(4 * format.PageSize)
	require.NoError(t, err)
	defer a.Close()

	off1, err := a.Carve(100)
	require.NoError(t, err)
	off2, err := a.Carve(format.PageSize + 1)
	require.NoError(t, err)

	require.Equal(t, 0, off1)
	require.Equal(t, format.PageSize, off2)
	require.Equal(t, 3*format.PageSize, a.Used())
}

func Test_Arena_MemoryIsWritable(t *testing.T) {
	a, err := New(format.PageSize)
	require.NoError(t, err)
	defer a.Close()

	off, err := a.Carve(format.PageSize)
	require.NoError(t, err)
	region := a.Bytes()[off : off+format.PageSize]
	for i := range region {
		region[i] = byte(i)
	}
	require.Equal(t, byte(0xff), region[0xff])
}

func Test_Arena_ExhaustionIsSticky(t *testing.T) {
	a := NewHeap(2 * format.PageSize)

	_, err := a.Carve(format.PageSize)
	require.NoError(t, err)

	_, err = a.Carve(2 * format.PageSize)
	require.ErrorIs(t, err, ErrExhausted)
	require.True(t, a.Full())

	// A page still fits, but the arena already refused once.
	_, err = a.Carve(format.PageSize)
	require.ErrorIs(t, err, ErrExhausted)
}

func Test_Arena_InvalidSizes(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)

	a := NewHeap(format.PageSize)
	_, err = a.Carve(0)
	require.Error(t, err)
}

func Test_Arena_ConcurrentCarveDisjoint(t *testing.T) {
	const pages = 64
	a := NewHeap(pages * format.PageSize)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				off, err := a.Carve(format.PageSize)
				if err != nil {
					return
				}
				mu.Lock()
				seen[off] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, pages)
}

func Test_Arena_CloseTwice(t *testing.T) {
	a, err := New(format.PageSize)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.Carve(format.PageSize)
	require.ErrorIs(t, err, ErrExhausted)
}
