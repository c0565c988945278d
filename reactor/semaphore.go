package reactor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// semWrap bounds concurrent zero-copy transmit_file operations per runtime
// (SPEC_FULL §2): a weighted semaphore from the same golang.org/x/sync
// module nabbar-golib depends on.
type semWrap struct {
	s *semaphore.Weighted
}

func newSemaphore(n int) *semWrap {
	return &semWrap{s: semaphore.NewWeighted(int64(n))}
}

func (s *semWrap) Acquire(ctx context.Context) error {
	return s.s.Acquire(ctx, 1)
}

func (s *semWrap) Release() {
	s.s.Release(1)
}
