package backend

import "github.com/seantiz/beamlab/internal/model"

// DefaultNodeThreshold is the model size at which analyses go remote.
const DefaultNodeThreshold = 2000

// Classify picks the venue for an input. forceCloud is checked first and wins
// when both overrides are set; otherwise models with at least threshold nodes
// go remote. A non-positive threshold means DefaultNodeThreshold.
func Classify(in *model.AnalysisInput, threshold int) model.Venue {
	if threshold <= 0 {
		threshold = DefaultNodeThreshold
	}

	opts := in.Options()
	switch {
	case opts.ForceCloud:
		return model.VenueRemote
	case opts.ForceLocal:
		return model.VenueLocal
	case len(in.Nodes) >= threshold:
		return model.VenueRemote
	default:
		return model.VenueLocal
	}
}
