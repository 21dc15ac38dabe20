package batch

import "bringmeimage/internal/models"

// Stage identifies one phase of the pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StageResolvingMetadata
	StageLocatingAssets
	StageDownloading
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageResolvingMetadata:
		return "Resolving Metadata"
	case StageLocatingAssets:
		return "Locating Assets"
	case StageDownloading:
		return "Downloading"
	case StageDone:
		return "Done"
	}
	return "Unknown"
}

// Progress tracks one stage. Counts are mutated only by the control
// loop, one increment per task completion, so the invariant
// 0 <= Succeeded <= Attempted <= Target holds throughout.
type Progress struct {
	Label     string
	Target    int
	Attempted int
	Succeeded int
}

// Complete reports whether every dispatched task has been accounted for.
func (p Progress) Complete() bool {
	return p.Attempted == p.Target
}

// Failed returns the number of unsuccessful completions.
func (p Progress) Failed() int {
	return p.Attempted - p.Succeeded
}

// EventKind discriminates the progress events surfaced to the caller.
type EventKind int

const (
	EventTaskCompleted EventKind = iota
	EventStageCompleted
	EventBatchCompleted
)

// Event is one progress notification. TaskCompleted events carry the
// task identity and its error, StageCompleted events carry final stage
// counts (plus the aggregated error for a cancelled metadata stage),
// and the BatchCompleted event carries the failure list.
type Event struct {
	Kind     EventKind
	Stage    Stage
	Progress Progress
	ID       string // sourceUrl or version id, task events only
	Err      error
	Failures []models.FailureRecord
}

// Decision is the caller's answer at a failure decision point.
type Decision int

const (
	Proceed Decision = iota
	Abort
)

// DecideFunc is consulted after any stage that ends with failures:
// proceed with the successfully processed subset, or abort and get
// every item back unprocessed.
type DecideFunc func(stage Stage, failures []models.FailureRecord) Decision
