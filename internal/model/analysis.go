package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when an analysis input fails validation.
var ErrInvalidInput = errors.New("invalid analysis input")

// Node is a point in the structural model.
type Node struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

// Member is a frame element connecting two nodes, with its section properties.
type Member struct {
	ID          string  `json:"id"`
	StartNodeID string  `json:"startNodeId"`
	EndNodeID   string  `json:"endNodeId"`
	E           float64 `json:"E"`
	A           float64 `json:"A"`
	Iy          float64 `json:"Iy"`
	Iz          float64 `json:"Iz"`
	G           float64 `json:"G,omitempty"`
	J           float64 `json:"J,omitempty"`
	Beta        float64 `json:"beta,omitempty"` // roll angle, radians
}

// Support restrains a subset of a node's six degrees of freedom.
type Support struct {
	NodeID string `json:"nodeId"`
	DX     bool   `json:"dx"`
	DY     bool   `json:"dy"`
	DZ     bool   `json:"dz"`
	RX     bool   `json:"rx"`
	RY     bool   `json:"ry"`
	RZ     bool   `json:"rz"`
}

// Load is a nodal force/moment.
type Load struct {
	NodeID string  `json:"nodeId"`
	FX     float64 `json:"fx,omitempty"`
	FY     float64 `json:"fy,omitempty"`
	FZ     float64 `json:"fz,omitempty"`
	MX     float64 `json:"mx,omitempty"`
	MY     float64 `json:"my,omitempty"`
	MZ     float64 `json:"mz,omitempty"`
}

// SolverConfig carries venue overrides and numeric options.
type SolverConfig struct {
	ForceCloud    bool    `json:"forceCloud,omitempty"`
	ForceLocal    bool    `json:"forceLocal,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
	UseIterative  bool    `json:"useIterative,omitempty"`
}

// AnalysisInput is a complete structural model submitted for analysis.
type AnalysisInput struct {
	Nodes    []Node        `json:"nodes"`
	Members  []Member      `json:"members"`
	Supports []Support     `json:"supports"`
	Loads    []Load        `json:"loads"`
	Config   *SolverConfig `json:"config,omitempty"`
}

// Options returns the solver config, or a zero value when none was supplied.
func (in *AnalysisInput) Options() SolverConfig {
	if in.Config == nil {
		return SolverConfig{}
	}
	return *in.Config
}

// Validate checks id uniqueness and that every support, load and member
// endpoint references an existing node.
func (in *AnalysisInput) Validate() error {
	if len(in.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalidInput)
	}
	if len(in.Members) == 0 {
		return fmt.Errorf("%w: at least one member is required", ErrInvalidInput)
	}

	nodes := make(map[string]struct{}, len(in.Nodes))
	for _, n := range in.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidInput)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidInput, n.ID)
		}
		nodes[n.ID] = struct{}{}
	}

	members := make(map[string]struct{}, len(in.Members))
	for _, m := range in.Members {
		if m.ID == "" {
			return fmt.Errorf("%w: member with empty id", ErrInvalidInput)
		}
		if _, dup := members[m.ID]; dup {
			return fmt.Errorf("%w: duplicate member id %q", ErrInvalidInput, m.ID)
		}
		members[m.ID] = struct{}{}
		for _, end := range []string{m.StartNodeID, m.EndNodeID} {
			if _, ok := nodes[end]; !ok {
				return fmt.Errorf("%w: member %q references unknown node %q", ErrInvalidInput, m.ID, end)
			}
		}
		if m.StartNodeID == m.EndNodeID {
			return fmt.Errorf("%w: member %q has coincident endpoints", ErrInvalidInput, m.ID)
		}
	}

	for _, s := range in.Supports {
		if _, ok := nodes[s.NodeID]; !ok {
			return fmt.Errorf("%w: support references unknown node %q", ErrInvalidInput, s.NodeID)
		}
	}
	for _, l := range in.Loads {
		if _, ok := nodes[l.NodeID]; !ok {
			return fmt.Errorf("%w: load references unknown node %q", ErrInvalidInput, l.NodeID)
		}
	}

	return nil
}
