// Package stage defines the contract pipeline step handlers implement.
package stage

import (
	"context"

	"oculith/internal/records"
)

// Handler describes the contract the pipeline needs from each step.
// Execute receives the file record in its in-progress status and must
// leave the step's artifacts on disk (or in the index) before
// returning nil.
type Handler interface {
	Execute(context.Context, *records.FileRecord) error
	HealthCheck(context.Context) Health
}
