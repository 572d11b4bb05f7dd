// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package balancer

import (
	"math/rand/v2"

	"github.com/tether-dev/tether/internal/endpoint"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// Strategy names a selection policy.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round-robin"
	StrategyLeastConnections   Strategy = "least-connections"
	StrategyWeightedRandom     Strategy = "weighted-random"
	StrategyWeightedRoundRobin Strategy = "weighted-round-robin"
)

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{
		StrategyRoundRobin,
		StrategyLeastConnections,
		StrategyWeightedRandom,
		StrategyWeightedRoundRobin,
	}
}

// picker chooses among eligible endpoints. Candidates arrive in insertion
// order and are never empty. Calls are serialized by the balancer lock.
type picker interface {
	pick(candidates []*endpoint.Endpoint) *endpoint.Endpoint
}

func newPicker(s Strategy, intN func(int) int) (picker, error) {
	switch s {
	case StrategyRoundRobin:
		return &roundRobin{}, nil
	case StrategyLeastConnections:
		return leastConnections{}, nil
	case StrategyWeightedRandom:
		if intN == nil {
			intN = rand.IntN
		}
		return weightedRandom{intN: intN}, nil
	case StrategyWeightedRoundRobin:
		return &smoothWeighted{current: make(map[string]int)}, nil
	default:
		return nil, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"unknown balancing strategy %q", s)
	}
}

// roundRobin rotates an index over the filtered set.
type roundRobin struct {
	next int
}

func (r *roundRobin) pick(candidates []*endpoint.Endpoint) *endpoint.Endpoint {
	e := candidates[r.next%len(candidates)]
	r.next++
	return e
}

// leastConnections picks the minimum active count; ties go to the earliest
// added endpoint.
type leastConnections struct{}

func (leastConnections) pick(candidates []*endpoint.Endpoint) *endpoint.Endpoint {
	best := candidates[0]
	bestActive := best.Active()
	for _, e := range candidates[1:] {
		if a := e.Active(); a < bestActive {
			best, bestActive = e, a
		}
	}
	return best
}

// weightedRandom picks with probability proportional to static weight.
type weightedRandom struct {
	intN func(int) int
}

func (w weightedRandom) pick(candidates []*endpoint.Endpoint) *endpoint.Endpoint {
	total := 0
	for _, e := range candidates {
		total += e.Weight()
	}
	n := w.intN(total)
	for _, e := range candidates {
		n -= e.Weight()
		if n < 0 {
			return e
		}
	}
	return candidates[len(candidates)-1]
}

// smoothWeighted is nginx-style smooth weighted round robin: every pick adds
// each weight to its running score, takes the highest score and subtracts
// the total from the winner.
type smoothWeighted struct {
	current map[string]int
}

func (s *smoothWeighted) pick(candidates []*endpoint.Endpoint) *endpoint.Endpoint {
	seen := make(map[string]struct{}, len(candidates))
	total := 0
	var chosen *endpoint.Endpoint
	for _, e := range candidates {
		seen[e.URL()] = struct{}{}
		total += e.Weight()
		s.current[e.URL()] += e.Weight()
		if chosen == nil || s.current[e.URL()] > s.current[chosen.URL()] {
			chosen = e
		}
	}
	// Scores of endpoints that dropped out of the eligible set restart at
	// zero when they return.
	for url := range s.current {
		if _, ok := seen[url]; !ok {
			delete(s.current, url)
		}
	}
	s.current[chosen.URL()] -= total
	return chosen
}
