package application

import "github.com/bnema/rotor/internal/ports"

// Weighted is one option of a weighted choice. Non-positive weights are never picked.
type Weighted[V any] struct {
	Value  V
	Weight float64
}

func pickUniform[V any](rng ports.Random, items []V) (V, bool) {
	var zero V
	if len(items) == 0 {
		return zero, false
	}
	return items[rng.Intn(len(items))], true
}

func pickWeighted[V any](rng ports.Random, items []Weighted[V]) (V, bool) {
	var zero V
	total := 0.0
	for _, item := range items {
		if item.Weight > 0 {
			total += item.Weight
		}
	}
	if total <= 0 {
		return zero, false
	}

	target := rng.Float64() * total
	for _, item := range items {
		if item.Weight <= 0 {
			continue
		}
		if target < item.Weight {
			return item.Value, true
		}
		target -= item.Weight
	}

	// float rounding can leave target just past the last bucket
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Weight > 0 {
			return items[i].Value, true
		}
	}
	return zero, false
}

// sampleUniform draws k distinct items without replacement. The input slice is not modified.
func sampleUniform[V any](rng ports.Random, items []V, k int) []V {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k > len(items) {
		k = len(items)
	}

	pool := append([]V(nil), items...)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
