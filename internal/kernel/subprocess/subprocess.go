// Package subprocess implements a numeric kernel that runs an external solver
// process. The solver reads the model as JSON on stdin and writes
// newline-delimited JSON messages to stdout: progress updates, then exactly one
// result or error message.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/model"
)

// Solver→host message types.
const (
	MsgTypeProgress = "progress"
	MsgTypeResult   = "result"
	MsgTypeError    = "error"
)

// MaxMessageSize bounds a single stdout line (a result line carries every
// displacement of the model).
const MaxMessageSize = 256 << 20

const maxStderr = 8 << 10

// ErrNoResult is returned when the solver exits cleanly without a result message.
var ErrNoResult = errors.New("solver produced no result")

// SolverError is an error the solver reported through an error message.
type SolverError struct {
	Message string
	Details string
}

func (e *SolverError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("solver error: %s (%s)", e.Message, e.Details)
	}
	return "solver error: " + e.Message
}

// Message is the envelope for every solver→host line.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressData struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type errorData struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type resultData struct {
	Displacements      []float64                     `json:"displacements"`
	Reactions          []float64                     `json:"reactions"`
	NodalDisplacements map[string]map[string]float64 `json:"nodalDisplacements"`
	NodalReactions     map[string]map[string]float64 `json:"nodalReactions"`
	Timing             map[string]float64            `json:"timing"`
	SolverInfo         struct {
		Method string `json:"method"`
	} `json:"solverInfo"`
	MatrixStats *struct {
		Size          int     `json:"size"`
		NNZ           int     `json:"nnz"`
		Density       float64 `json:"density"`
		MemorySavedMB float64 `json:"memorySavedMB"`
	} `json:"matrixStats"`
}

// request is the JSON document written to the solver's stdin.
type request struct {
	Nodes    []model.Node    `json:"nodes"`
	Members  []model.Member  `json:"members"`
	Supports []model.Support `json:"supports"`
	Loads    []model.Load    `json:"loads"`
	Config   requestConfig   `json:"config"`
}

type requestConfig struct {
	UseIterative  bool    `json:"useIterative,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
}

// Config selects the solver executable.
type Config struct {
	Command string
	Args    []string
}

// ParseCommand splits a command line such as "python3 solver.py --stdin".
func ParseCommand(line string) Config {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Config{}
	}
	return Config{Command: fields[0], Args: fields[1:]}
}

// Factory builds kernels that each run one solver process per Solve call.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

var _ kernel.Factory = (*Factory)(nil)

// NewFactory creates a subprocess kernel factory.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// New implements kernel.Factory.
func (f *Factory) New(m kernel.Model) (kernel.Kernel, error) {
	if f.cfg.Command == "" {
		return nil, errors.New("no solver command configured")
	}
	return &procKernel{cfg: f.cfg, model: m, logger: f.logger}, nil
}

type procKernel struct {
	cfg    Config
	model  kernel.Model
	logger *slog.Logger
}

// Solve runs the solver process. Cancelling ctx kills the process.
func (k *procKernel) Solve(ctx context.Context, loads []model.Load) (*kernel.Solution, error) {
	payload, err := json.Marshal(request{
		Nodes:    k.model.Nodes,
		Members:  k.model.Members,
		Supports: k.model.Supports,
		Loads:    loads,
		Config: requestConfig{
			UseIterative:  k.model.Options.UseIterative,
			Tolerance:     k.model.Options.Tolerance,
			MaxIterations: k.model.Options.MaxIterations,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal solver input: %w", err)
	}

	cmd := exec.CommandContext(ctx, k.cfg.Command, k.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("solver stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start solver: %w", err)
	}

	sol, readErr := k.readMessages(stdout)
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("solver exited: %w", waitErr)
		}
		return nil, fmt.Errorf("solver exited: %w: %s", waitErr, msg)
	}
	if sol == nil {
		return nil, ErrNoResult
	}
	return sol, nil
}

// readMessages consumes every stdout line so the process never blocks on a
// full pipe, remembering the first result or error.
func (k *procKernel) readMessages(r io.Reader) (*kernel.Solution, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), MaxMessageSize)

	var (
		sol      *kernel.Solution
		firstErr error
	)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || firstErr != nil {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Solvers may print free-form diagnostics; skip them.
			k.logger.Debug("solver: non-protocol output", "line", string(line))
			continue
		}

		switch msg.Type {
		case MsgTypeProgress:
			var p progressData
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				continue
			}
			if k.model.Progress != nil {
				k.model.Progress(p.Stage, p.Progress, p.Message)
			}
		case MsgTypeError:
			var e errorData
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				firstErr = fmt.Errorf("decode solver error: %w", err)
				continue
			}
			firstErr = &SolverError{Message: e.Error, Details: e.Details}
		case MsgTypeResult:
			var res resultData
			if err := json.Unmarshal(msg.Data, &res); err != nil {
				firstErr = fmt.Errorf("decode solver result: %w", err)
				continue
			}
			sol = toSolution(&res)
		}
	}
	if err := scanner.Err(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("read solver output: %w", err)
		_, _ = io.Copy(io.Discard, r)
	}
	return sol, firstErr
}

var (
	displacementKeys = [kernel.DOFs]string{"dx", "dy", "dz", "rx", "ry", "rz"}
	reactionKeys     = [kernel.DOFs]string{"fx", "fy", "fz", "mx", "my", "mz"}
)

func toSolution(res *resultData) *kernel.Solution {
	sol := &kernel.Solution{
		Displacements:      res.Displacements,
		Reactions:          res.Reactions,
		NodalDisplacements: toVectors(res.NodalDisplacements, displacementKeys),
		NodalReactions:     toVectors(res.NodalReactions, reactionKeys),
		Timing: kernel.Timing{
			Assembly: res.Timing["assembly"],
			Solve:    res.Timing["solve"],
		},
		SolverType: res.SolverInfo.Method,
	}
	if ms := res.MatrixStats; ms != nil {
		sol.MatrixStats = &model.MatrixStats{
			Size:          ms.Size,
			NonzeroCount:  ms.NNZ,
			Density:       ms.Density,
			MemorySavedMB: ms.MemorySavedMB,
		}
	}
	return sol
}

func toVectors(in map[string]map[string]float64, keys [kernel.DOFs]string) map[string][kernel.DOFs]float64 {
	out := make(map[string][kernel.DOFs]float64, len(in))
	for id, comps := range in {
		var v [kernel.DOFs]float64
		for i, k := range keys {
			v[i] = comps[k]
		}
		out[id] = v
	}
	return out
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
