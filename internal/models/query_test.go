package models

import (
	"math"
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	neg := -1.0
	nan := math.NaN()
	zero := 0.0
	tests := []struct {
		name    string
		query   *SearchQuery
		maxK    int
		wantK   int
		wantErr bool
	}{
		{"keeps k", &SearchQuery{K: 10}, 100, 10, false},
		{"caps k", &SearchQuery{K: 500}, 100, 100, false},
		{"no cap", &SearchQuery{K: 500}, 0, 500, false},
		{"zero k allowed", &SearchQuery{K: 0}, 100, 0, false},
		{"zero radius allowed", &SearchQuery{K: 1, Radius: &zero}, 100, 1, false},
		{"negative radius", &SearchQuery{K: 1, Radius: &neg}, 100, 1, true},
		{"nan radius", &SearchQuery{K: 1, Radius: &nan}, 100, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(tt.maxK)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.query.K != tt.wantK {
				t.Errorf("K=%d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestSearchQuery_RadiusOrInf(t *testing.T) {
	q := &SearchQuery{K: 1}
	if !math.IsInf(q.RadiusOrInf(), 1) {
		t.Error("unset radius should be +Inf")
	}
	r := 0.5
	q.Radius = &r
	if q.RadiusOrInf() != 0.5 {
		t.Errorf("RadiusOrInf=%f", q.RadiusOrInf())
	}
}
