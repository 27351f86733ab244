package postprocess

import (
	"sort"
	"sync"

	"github.com/nvr-ai/go-detect/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap at or above which a lower ranked box of the
	// same class is suppressed.
	IoUThreshold float32 `yaml:"iou_threshold"`
	// NumWorkers is the number of goroutines suppressing class groups in
	// parallel. Values below 2 run sequentially.
	NumWorkers int `yaml:"workers"`
}

// ApplyNMS filters overlapping candidates class by class.
//
// Candidates are grouped by ClassID; boxes of different classes never suppress
// each other. Inside a group candidates are ranked by score descending, then by
// anchor index ascending, and greedy suppression keeps the best box and drops
// every remaining box whose IoU with it is >= the threshold.
//
// Arguments:
//   - candidates: The confidence-filtered candidates, in any order.
//   - config: NMS configuration.
//
// Returns:
//   - []Detection: The kept detections, grouped by ascending class id and in
//     selection order within a group. nil when there are no candidates.
func ApplyNMS(candidates []Candidate, config NMSConfig) []Detection {
	if len(candidates) == 0 {
		return nil
	}

	groups := groupByClass(candidates)
	kept := make([][]Detection, len(groups))

	workers := config.NumWorkers
	if workers > len(groups) {
		workers = len(groups)
	}

	if workers < 2 {
		for i, g := range groups {
			kept[i] = ApplyGreedyNMS(g, config.IoUThreshold)
		}
	} else {
		// Each worker owns the result slot of the group it pulled, so the
		// output order does not depend on scheduling.
		jobs := make(chan int, len(groups))
		for i := range groups {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					kept[i] = ApplyGreedyNMS(groups[i], config.IoUThreshold)
				}
			}()
		}
		wg.Wait()
	}

	total := 0
	for _, k := range kept {
		total += len(k)
	}
	out := make([]Detection, 0, total)
	for _, k := range kept {
		out = append(out, k...)
	}
	return out
}

// groupByClass splits candidates into per-class groups, ordered by ascending
// class id, each group ranked for suppression.
func groupByClass(candidates []Candidate) [][]Candidate {
	byClass := make(map[int][]Candidate)
	for _, c := range candidates {
		byClass[c.ClassID] = append(byClass[c.ClassID], c)
	}

	classes := make([]int, 0, len(byClass))
	for id := range byClass {
		classes = append(classes, id)
	}
	sort.Ints(classes)

	groups := make([][]Candidate, len(classes))
	for i, id := range classes {
		g := byClass[id]
		sort.SliceStable(g, func(a, b int) bool {
			if g[a].Score != g[b].Score {
				return g[a].Score > g[b].Score
			}
			return g[a].Anchor < g[b].Anchor
		})
		groups[i] = g
	}
	return groups
}

// ApplyGreedyNMS performs greedy Non-Maximum Suppression on one ranked group.
//
// Arguments:
//   - ranked: Candidates of a single class, best first.
//   - iouThreshold: IoU at or above which overlapping boxes are suppressed.
//
// Returns:
//   - The kept detections in selection order.
func ApplyGreedyNMS(ranked []Candidate, iouThreshold float32) []Detection {
	n := len(ranked)
	if n == 0 {
		return nil
	}

	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := ranked[i].Detection
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			// Disjoint or degenerate boxes (IoU 0) never suppress, even at a
			// zero threshold.
			if iou := images.CalculateIoU(anchor.Box, ranked[j].Box); iou > 0 && iou >= iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
