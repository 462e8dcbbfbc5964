package graph

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur/internal/store"
)

// quantum is the window within which every request sees the same ordering
// anchor. Across windows the anchor jumps.
const quantum = time.Second

// order returns the attempt order for one request. Only the round robin
// strategies produce an ordering; the rest fail closed.
func order(strategy store.Strategy, deploymentID, virtualKeyID uuid.UUID, now time.Time, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	switch strategy {
	case store.StrategyRoundRobin:
		return rotate(deploymentID, now, candidates), nil
	case store.StrategyWeightedRoundRobin:
		return weightedShuffle(virtualKeyID, now, candidates), nil
	default:
		return nil, fmt.Errorf("load balancing strategy %q has no ordering", strategy)
	}
}

// orderingSeed folds an id and the current time window into one value, so
// every replica computes the same ordering within a window without shared
// state.
func orderingSeed(id uuid.UUID, now time.Time) uint64 {
	var slot [8]byte
	binary.BigEndian.PutUint64(slot[:], uint64(now.UnixNano()/int64(quantum)))

	h := fnv.New64a()
	h.Write(id[:])
	h.Write(slot[:])
	return h.Sum64()
}

// rotate anchors the list at a window-stable offset derived from the
// deployment id.
func rotate(deploymentID uuid.UUID, now time.Time, candidates []Candidate) []Candidate {
	offset := int(orderingSeed(deploymentID, now) % uint64(len(candidates)))
	out := make([]Candidate, 0, len(candidates))
	out = append(out, candidates[offset:]...)
	out = append(out, candidates[:offset]...)
	return out
}

// weightedShuffle draws candidates without replacement with probability
// proportional to weight, from a deterministic source seeded by the virtual
// key and the time window.
func weightedShuffle(virtualKeyID uuid.UUID, now time.Time, candidates []Candidate) []Candidate {
	rng := rand.New(rand.NewPCG(orderingSeed(virtualKeyID, now), uint64(len(candidates))))

	pool := slices.Clone(candidates)
	out := make([]Candidate, 0, len(pool))

	total := 0
	for _, c := range pool {
		total += int(c.Weight)
	}

	for len(pool) > 0 {
		if total <= 0 {
			out = append(out, pool...)
			break
		}
		pick := rng.IntN(total)
		idx := 0
		for i, c := range pool {
			pick -= int(c.Weight)
			if pick < 0 {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		total -= int(pool[idx].Weight)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}
