package records

import (
	"sort"
	"strings"
	"time"
)

// Status represents the processing lifecycle of a registered file.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusQueued     Status = "queued"
	StatusConverting Status = "converting"
	StatusConverted  Status = "converted"
	StatusChunking   Status = "chunking"
	StatusChunked    Status = "chunked"
	StatusIndexing   Status = "indexing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusQueued,
	StatusConverting,
	StatusConverted,
	StatusChunking,
	StatusChunked,
	StatusIndexing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusConverting: {},
	StatusChunking:   {},
	StatusIndexing:   {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether no further transition may occur from a status,
// short of a fresh submission re-queueing the file.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Step identifies one unit of the processing pipeline.
type Step string

const (
	StepConvert Step = "convert"
	StepChunk   Step = "chunk"
	StepIndex   Step = "index"
)

// StepOrder is the fixed execution order of pipeline steps.
var StepOrder = []Step{StepConvert, StepChunk, StepIndex}

// SortSteps reorders steps in place to match pipeline execution order.
func SortSteps(steps []Step) {
	rank := map[Step]int{StepConvert: 0, StepChunk: 1, StepIndex: 2}
	sort.SliceStable(steps, func(i, j int) bool {
		return rank[steps[i]] < rank[steps[j]]
	})
}

// ParseStep converts a string into a known Step.
func ParseStep(value string) (Step, bool) {
	normalized := Step(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StepConvert, StepChunk, StepIndex:
		return normalized, true
	}
	return "", false
}

// ProcessingStatus returns the in-progress status a step moves a record into.
func (s Step) ProcessingStatus() Status {
	switch s {
	case StepConvert:
		return StatusConverting
	case StepChunk:
		return StatusChunking
	case StepIndex:
		return StatusIndexing
	}
	return ""
}

// DoneStatus returns the status a record reaches when a step completes.
// Index is the final step, so its done status is completed.
func (s Step) DoneStatus() Status {
	switch s {
	case StepConvert:
		return StatusConverted
	case StepChunk:
		return StatusChunked
	case StepIndex:
		return StatusCompleted
	}
	return ""
}

// Precondition returns the stage a record must have completed before the step
// may run. Convert has no prerequisite.
func (s Step) Precondition() Status {
	switch s {
	case StepChunk:
		return StatusConverted
	case StepIndex:
		return StatusChunked
	}
	return ""
}

// stageRank orders completed-stage markers for precondition checks.
var stageRank = map[Status]int{
	"":              0,
	StatusConverted: 1,
	StatusChunked:   2,
	StatusCompleted: 3,
}

// StageReached reports whether a record whose last completed stage is have
// satisfies a precondition of want.
func StageReached(have, want Status) bool {
	return stageRank[have] >= stageRank[want]
}

// SourceType distinguishes how a file entered the system.
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourceRemote SourceType = "remote"
)

// FileRecord is the persisted status record for one registered file.
type FileRecord struct {
	ID             string
	OriginalName   string
	SourceType     SourceType
	SourceURL      string
	Extension      string
	ContentType    string
	SizeBytes      int64
	Status         Status
	LastStage      Status
	RequestedSteps []Step
	LastError      string
	ChunkCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsProcessing returns true when the record reflects an in-flight stage.
func (r FileRecord) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// validTransition encodes the monotonic status machine: forward along the
// pipeline, failed from any in-progress state, and re-queue from anywhere on
// a fresh submission.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusQueued {
		// A new submission may re-queue any record not mid-stage.
		return !IsProcessingStatus(from)
	}
	switch from {
	case StatusUploaded:
		return false // only queued leaves uploaded
	case StatusQueued:
		return to == StatusConverting || to == StatusChunking || to == StatusIndexing || to == StatusFailed
	case StatusConverting:
		return to == StatusConverted || to == StatusFailed
	case StatusConverted:
		return to == StatusChunking || to == StatusFailed
	case StatusChunking:
		return to == StatusChunked || to == StatusFailed
	case StatusChunked:
		return to == StatusIndexing || to == StatusFailed
	case StatusIndexing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

// StepsString renders steps as a comma-separated list for persistence.
func StepsString(steps []Step) string {
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		parts = append(parts, string(step))
	}
	return strings.Join(parts, ",")
}

// ParseSteps parses a comma-separated step list, discarding unknown entries.
func ParseSteps(value string) []Step {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	steps := make([]Step, 0, len(parts))
	for _, part := range parts {
		if step, ok := ParseStep(part); ok {
			steps = append(steps, step)
		}
	}
	return steps
}
