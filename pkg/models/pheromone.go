package models

import "time"

// PheromoneOutcome is one recorded result feeding a pheromone score.
type PheromoneOutcome struct {
	Success   bool
	LatencyMS int64
	CostUSD   float64
	At        time.Time
}

// MaxPheromoneRecords bounds the rolling window kept per (agent, task_type)
// pair.
const MaxPheromoneRecords = 200

// PheromoneDecayPerDay is the multiplicative decay applied to the score
// for every 24h elapsed since the last update.
const PheromoneDecayPerDay = 0.95

// ColdStartScore is the neutral score assigned to an (agent, task_type)
// pair with no recorded outcomes yet.
const ColdStartScore = 0.5
