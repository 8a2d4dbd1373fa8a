package agentpool

import (
	"math"
	"sync"
	"time"

	"github.com/agentloop/agentloop/pkg/models"
)

// pheromoneKey buckets outcomes by agent and task type, per spec's
// "tie-breaker among equally eligible agents" use.
type pheromoneKey struct {
	AgentID  string
	TaskType string
}

// pheromones is the process-wide, in-memory-only pheromone tracker. It
// is never persisted — a restart resets every agent to the cold-start
// score.
type pheromones struct {
	mu      sync.Mutex
	records map[pheromoneKey][]models.PheromoneOutcome
	now     func() time.Time
}

func newPheromones() *pheromones {
	return &pheromones{records: make(map[pheromoneKey][]models.PheromoneOutcome), now: time.Now}
}

// record appends one outcome, trimming the oldest entry once the bound
// is exceeded (bounded 200 records per agent/task-type pair).
func (p *pheromones) record(agentID, taskType string, success bool, latencyMS int64, costUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pheromoneKey{AgentID: agentID, TaskType: taskType}
	recs := p.records[key]
	recs = append(recs, models.PheromoneOutcome{
		Success:   success,
		LatencyMS: latencyMS,
		CostUSD:   costUSD,
		At:        p.now(),
	})
	if len(recs) > models.MaxPheromoneRecords {
		recs = recs[len(recs)-models.MaxPheromoneRecords:]
	}
	p.records[key] = recs
}

// score computes 0.6*success_rate + 0.3*speed_score + 0.1*cost_score
// over the retained records, each weighted by age decay of 0.95/day.
// Returns the cold-start score of 0.5 if there is no history yet.
func (p *pheromones) score(agentID, taskType string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	recs := p.records[pheromoneKey{AgentID: agentID, TaskType: taskType}]
	if len(recs) == 0 {
		return models.ColdStartScore
	}

	now := p.now()
	var weightSum, successWeighted, speedWeighted, costWeighted float64
	for _, r := range recs {
		ageDays := now.Sub(r.At).Hours() / 24
		weight := math.Pow(models.PheromoneDecayPerDay, ageDays)
		weightSum += weight

		if r.Success {
			successWeighted += weight
		}
		speedWeighted += weight * speedScore(r.LatencyMS)
		costWeighted += weight * costScore(r.CostUSD)
	}
	if weightSum == 0 {
		return models.ColdStartScore
	}

	successRate := successWeighted / weightSum
	speed := speedWeighted / weightSum
	cost := costWeighted / weightSum
	return 0.6*successRate + 0.3*speed + 0.1*cost
}

// speedScore maps latency to [0,1], 1.0 at or below 1s, decaying to 0 by 30s.
func speedScore(latencyMS int64) float64 {
	const floor, ceiling = 1000.0, 30000.0
	l := float64(latencyMS)
	if l <= floor {
		return 1
	}
	if l >= ceiling {
		return 0
	}
	return 1 - (l-floor)/(ceiling-floor)
}

// costScore maps cost-per-call to [0,1], 1.0 at or below $0.001, decaying to 0 by $0.50.
func costScore(costUSD float64) float64 {
	const floor, ceiling = 0.001, 0.50
	if costUSD <= floor {
		return 1
	}
	if costUSD >= ceiling {
		return 0
	}
	return 1 - (costUSD-floor)/(ceiling-floor)
}
