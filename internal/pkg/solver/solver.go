/*
Package solver defines the request/response contract between the modeling
layer and the external load-flow solver. The solver receives the fully
assembled element graph and returns per-node potentials; non-convergence and
transport failures come back as a failure status, never as a structural
error, since they are properties of the numeric inputs rather than of the
model's shape.
*/
package solver

import (
	"context"
	"encoding/json"
)

// Status reports the outcome of a solve.
type Status string

const (
	Success Status = "success"
	Failure Status = "failure"
)

// Request carries the serialized network model to the solver.
type Request struct {
	Network json.RawMessage `json:"network"`
}

// Response is the solver's reply. Unknown fields are forward-compatible and
// ignored on decode.
type Response struct {
	Status     Status  `json:"status"`
	Iterations int     `json:"iterations"`
	Residual   float64 `json:"residual"`
	// Potentials maps a bus or ground id to its per-phase potentials as
	// [re, im] pairs; grounds carry a single entry.
	Potentials map[string][][2]float64 `json:"potentials"`
	Message    string                  `json:"message,omitempty"`
}

// Solver is the external collaborator boundary. Solve blocks until the
// solver replies or ctx expires.
type Solver interface {
	Solve(ctx context.Context, req *Request) (*Response, error)
}
