package mark

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/zgc/gc/hostiface"
	"github.com/orizon-lang/zgc/gc/pointer"
)

// RunParallel partitions roots across workerCount Markers and runs each
// to completion concurrently. Each worker owns an independent stack and
// visited set, so duplicate work across workers (the same object reached
// from two partitions) is possible. Step skips an object whose header
// another worker has already marked, but two workers that both read the
// header before either writes it each mark and count the object.
//
// The merged Stats sums every worker's counters, so such duplicate marks
// inflate ObjectsMarked/BytesMarked slightly (the returned live refs are
// deduplicated by address), a tradeoff spec.md accepts in
// exchange for lock-free per-worker stacks (spec.md §4 locking
// discipline: "no lock may be held across a safepoint").
func RunParallel(ctx context.Context, rt hostiface.Runtime, markColor pointer.Color, cfg Config, roots []pointer.Ref, workerCount int) (Stats, []pointer.Ref, error) {
	if workerCount < 1 {
		workerCount = 1
	}
	partitions := partitionRoots(roots, workerCount)

	markers := make([]*Marker, len(partitions))
	g, ctx := errgroup.WithContext(ctx)
	for i, part := range partitions {
		i, part := i, part
		markers[i] = New(rt, markColor, cfg)
		markers[i].Seed(part)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if _, complete := markers[i].Step(func() bool {
					select {
					case <-ctx.Done():
						return true
					default:
						return false
					}
				}); complete {
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, nil, err
	}

	var merged Stats
	var liveRefs []pointer.Ref
	seen := make(map[uintptr]struct{})
	for _, mk := range markers {
		s := mk.Stats()
		merged.BytesMarked += s.BytesMarked
		merged.ObjectsMarked += s.ObjectsMarked
		merged.RootOverflow += s.RootOverflow
		merged.StackOverflow += s.StackOverflow
		for _, ref := range mk.LiveRefs() {
			if _, dup := seen[ref.Address()]; dup {
				continue
			}
			seen[ref.Address()] = struct{}{}
			liveRefs = append(liveRefs, ref)
		}
	}
	return merged, liveRefs, nil
}

func partitionRoots(roots []pointer.Ref, workerCount int) [][]pointer.Ref {
	parts := make([][]pointer.Ref, workerCount)
	for i, r := range roots {
		w := i % workerCount
		parts[w] = append(parts[w], r)
	}
	return parts
}
