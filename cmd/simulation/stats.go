package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// phaseStats tracks how long each phase of the simulation took
type phaseStats struct {
	order  []string
	phases map[string][]time.Duration
}

func newPhaseStats() *phaseStats {
	return &phaseStats{phases: make(map[string][]time.Duration)}
}

func (ps *phaseStats) record(phase string, d time.Duration) {
	if _, ok := ps.phases[phase]; !ok {
		ps.order = append(ps.order, phase)
	}
	ps.phases[phase] = append(ps.phases[phase], d)
}

// calculate returns min, max, mean, median and 95th percentile durations
func calculate(durations []time.Duration) (min, max, mean, median, p95 time.Duration) {
	if len(durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95idx := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	p95 = sorted[p95idx]
	return
}

func (ps *phaseStats) print() {
	fmt.Println("\nSettlement Statistics")
	fmt.Println(strings.Repeat("-", 90))
	fmt.Printf("%-20s %8s %10s %10s %10s %10s %10s\n",
		"Phase", "Runs", "Min", "Max", "Mean", "Median", "P95")
	fmt.Println(strings.Repeat("-", 90))

	for _, name := range ps.order {
		durations := ps.phases[name]
		min, max, mean, median, p95 := calculate(durations)
		fmt.Printf("%-20s %8d %10s %10s %10s %10s %10s\n",
			name,
			len(durations),
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 90))
}
