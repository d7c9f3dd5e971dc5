package relocate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/zgc/gc/pointer"
	"github.com/orizon-lang/zgc/gc/region"
)

// LiveObjectsOf is the runtime helper spec.md §4.7 step 2 refers to as
// "iterate its live objects" — the collector has no generic way to
// enumerate a region's contents, so the host supplies it.
type LiveObjectsOf func(id region.ID) []pointer.Ref

// RunParallel evacuates every candidate region concurrently, one
// goroutine per region, with in-flight evacuations capped at
// workerCount.
func (r *Relocator) RunParallel(ctx context.Context, candidates []region.ID, liveObjects LiveObjectsOf, workerCount int) (Stats, error) {
	if workerCount < 1 {
		workerCount = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	var mu sync.Mutex
	var total Stats

	for _, id := range candidates {
		id := id
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			objs := liveObjects(id)
			s, err := r.EvacuateRegion(id, objs)
			if err != nil {
				return err
			}
			mu.Lock()
			total.RegionsEvacuated += s.RegionsEvacuated
			total.RegionsSkippedPin += s.RegionsSkippedPin
			total.ObjectsRelocated += s.ObjectsRelocated
			total.BytesRelocated += s.BytesRelocated
			total.RelocationAborted += s.RelocationAborted
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return total, nil
}
