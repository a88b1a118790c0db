package backend_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/model"
)

func inputWithNodes(n int, cfg *model.SolverConfig) *model.AnalysisInput {
	in := &model.AnalysisInput{Config: cfg}
	for i := range n {
		in.Nodes = append(in.Nodes, model.Node{ID: fmt.Sprintf("n%d", i), X: float64(i)})
	}
	return in
}

func TestClassifyBySize(t *testing.T) {
	tests := []struct {
		nodes     int
		threshold int
		want      model.Venue
	}{
		{0, 2000, model.VenueLocal},
		{10, 2000, model.VenueLocal},
		{1999, 2000, model.VenueLocal},
		{2000, 2000, model.VenueRemote},
		{3000, 2000, model.VenueRemote},
		{5, 5, model.VenueRemote},
		{4, 5, model.VenueLocal},
		// Non-positive threshold falls back to the default.
		{1999, 0, model.VenueLocal},
		{2000, -1, model.VenueRemote},
	}
	for _, tt := range tests {
		got := backend.Classify(inputWithNodes(tt.nodes, nil), tt.threshold)
		assert.Equal(t, tt.want, got, "nodes=%d threshold=%d", tt.nodes, tt.threshold)
	}
}

func TestClassifyOverrides(t *testing.T) {
	tests := []struct {
		name  string
		nodes int
		cfg   *model.SolverConfig
		want  model.Venue
	}{
		{"forceCloud small model", 10, &model.SolverConfig{ForceCloud: true}, model.VenueRemote},
		{"forceLocal large model", 5000, &model.SolverConfig{ForceLocal: true}, model.VenueLocal},
		{"both set, cloud wins on small", 10, &model.SolverConfig{ForceCloud: true, ForceLocal: true}, model.VenueRemote},
		{"both set, cloud wins on large", 5000, &model.SolverConfig{ForceCloud: true, ForceLocal: true}, model.VenueRemote},
		{"empty config", 10, &model.SolverConfig{}, model.VenueLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backend.Classify(inputWithNodes(tt.nodes, tt.cfg), backend.DefaultNodeThreshold))
		})
	}
}
