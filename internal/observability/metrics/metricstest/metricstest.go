// Package metricstest reads counter values back out of a registry.
package metricstest

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue sums the counter family name across series that carry every
// label in match.
func CounterValue(t testing.TB, gatherer prometheus.Gatherer, name string, match map[string]string) float64 {
	t.Helper()

	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !hasLabels(metric, match) {
				continue
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func hasLabels(metric *dto.Metric, match map[string]string) bool {
	for key, want := range match {
		found := false
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == key && pair.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
