package model

// Venue is where a run executes.
type Venue string

// Execution venues.
const (
	VenueLocal  Venue = "local"
	VenueRemote Venue = "remote"
)

// Stage names a phase of a run for progress reporting.
type Stage string

// Progress stages shared by both venues.
const (
	StageInitializing   Stage = "initializing"
	StageAssembling     Stage = "assembling"
	StageSolving        Stage = "solving"
	StagePostprocessing Stage = "postprocessing"
	StageUploading      Stage = "uploading"
	StagePolling        Stage = "polling"
)

// AnalysisProgress is one progress event of a run.
type AnalysisProgress struct {
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	IsCloud  bool   `json:"isCloud"`
}

// Severity classifies a user-facing notification.
type Severity string

// Notification severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// NodalDisplacement holds the six displacement components of a node.
type NodalDisplacement struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	DZ float64 `json:"dz"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
}

// NodalReaction holds the six reaction components of a supported node.
type NodalReaction struct {
	FX float64 `json:"fx"`
	FY float64 `json:"fy"`
	FZ float64 `json:"fz"`
	MX float64 `json:"mx"`
	MY float64 `json:"my"`
	MZ float64 `json:"mz"`
}

// Timing is the phase breakdown of a run in milliseconds.
type Timing struct {
	Assembly float64 `json:"assembly"`
	Solve    float64 `json:"solve"`
	Total    float64 `json:"total"`
}

// SolverInfo describes how a result was produced.
type SolverInfo struct {
	Method      string `json:"method"`
	IsCloud     bool   `json:"isCloud"`
	NodeCount   int    `json:"nodeCount"`
	MemberCount int    `json:"memberCount"`
}

// MatrixStats describes the assembled global stiffness matrix.
type MatrixStats struct {
	Size          int     `json:"size"`
	NonzeroCount  int     `json:"nonzeroCount"`
	Density       float64 `json:"density"`
	MemorySavedMB float64 `json:"memorySavedMB"`
}

// AnalysisResult is the canonical output of a run regardless of venue.
type AnalysisResult struct {
	Displacements      []float64                    `json:"displacements"`
	Reactions          []float64                    `json:"reactions"`
	NodalDisplacements map[string]NodalDisplacement `json:"nodalDisplacements"`
	NodalReactions     map[string]NodalReaction     `json:"nodalReactions"`
	Timing             Timing                       `json:"timing"`
	SolverInfo         SolverInfo                   `json:"solverInfo"`
	MatrixStats        *MatrixStats                 `json:"matrixStats,omitempty"`
}

// HealthStatus reports remote service availability.
type HealthStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}
