package management

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/types"
)

// PlantStats summarizes the stored history of one plant. Moisture values
// are percent; undefined measurements are left out.
type PlantStats struct {
	Plant        int       `json:"plant"`
	Samples      int       `json:"samples"`
	Irrigations  int       `json:"irrigations"`
	MeanBefore   float64   `json:"mean_before"`
	StdDevBefore float64   `json:"stddev_before"`
	MeanAfter    float64   `json:"mean_after"`
	StdDevAfter  float64   `json:"stddev_after"`
	TrendPerDay  float64   `json:"trend_per_day"`
	First        time.Time `json:"first"`
	Last         time.Time `json:"last"`
}

// ComputeStats groups readings by plant and summarizes each group, ordered
// by plant.
func ComputeStats(readings []types.PlantReading) []PlantStats {
	byPlant := make(map[int][]types.PlantReading)
	for _, r := range readings {
		byPlant[r.Plant] = append(byPlant[r.Plant], r)
	}

	plants := make([]int, 0, len(byPlant))
	for p := range byPlant {
		plants = append(plants, p)
	}
	slices.Sort(plants)

	out := make([]PlantStats, 0, len(plants))
	for _, p := range plants {
		out = append(out, plantStats(p, byPlant[p]))
	}
	return out
}

func plantStats(plant int, readings []types.PlantReading) PlantStats {
	ps := PlantStats{Plant: plant, Samples: len(readings)}

	var before, after, hours []float64
	for _, r := range readings {
		if ps.First.IsZero() || r.Timestamp.Before(ps.First) {
			ps.First = r.Timestamp
		}
		if r.Timestamp.After(ps.Last) {
			ps.Last = r.Timestamp
		}
		if r.TicksSinceIrrigation == 0 && r.Watered() {
			ps.Irrigations++
		}
		if r.BeforeMoisture != protocol.UndefinedLevel {
			before = append(before, float64(r.BeforeMoisture))
			hours = append(hours, r.Timestamp.Sub(readings[0].Timestamp).Hours())
		}
		if r.AfterMoisture != protocol.UndefinedLevel {
			after = append(after, float64(r.AfterMoisture))
		}
	}

	if len(before) > 0 {
		ps.MeanBefore, ps.StdDevBefore = meanStdDev(before)
	}
	if len(after) > 0 {
		ps.MeanAfter, ps.StdDevAfter = meanStdDev(after)
	}
	if len(before) > 1 && ps.Last.Sub(ps.First) > 0 {
		_, slope := stat.LinearRegression(hours, before, nil, false)
		ps.TrendPerDay = slope * 24
	}
	return ps
}

// meanStdDev is stat.MeanStdDev with a zero deviation for a single sample.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
