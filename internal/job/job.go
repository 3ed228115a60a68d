// Package job provides the conversion job aggregate: the state machine a
// gif-to-video request moves through, a repository port for persistence,
// and the service that runs the pipeline per job.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/stillframe/gifpipe/internal/job/id"
)

// Status represents the current state of a conversion job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and is waiting to run.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the conversion pipeline is executing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished with a video or a
	// fallback still image.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the pipeline failed and no fallback applied.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Result records what a completed conversion produced. Exactly one of
// OutputPath (video) or FallbackUsed with StillPath (degraded still) is
// set, mirroring the pipeline's contract.
type Result struct {
	// OutputPath is the local path of the produced video.
	OutputPath string
	// StillPath is the local path of the fallback still image.
	StillPath string
	// FallbackUsed is true when the still-image path was taken.
	FallbackUsed bool
	// PublishedURL is the public URL when the artifact was uploaded.
	PublishedURL string
	// FrameCount is the number of frames rasterized.
	FrameCount int
	// TotalDurationMs is the summed display time of all frames.
	TotalDurationMs int
	// LoopCount is the source container's loop count: 0 means loop
	// forever, -1 means play once.
	LoopCount int
	// VideoDurationMs is the probed duration of the produced video.
	VideoDurationMs int64
}

// Job represents one gif-to-video conversion request and its outcome.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// SourceURL is the remote animated image being converted.
	SourceURL string
	// Publish indicates whether the finished artifact is uploaded.
	Publish bool
	// Status is the current job state.
	Status Status
	// Error contains the failure message when the job failed.
	Error string
	// Result holds the produced artifacts once the job completed.
	Result *Result
	// CreatedAt is when the job was accepted.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the pipeline started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a Job for the given source with a generated ID in the
// IN_QUEUE state.
func New(sourceURL string, publish bool) *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		SourceURL: sourceURL,
		Publish:   publish,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewWithID creates a Job with the specified ID. Useful for tests and
// externally generated identifiers.
func NewWithID(jobID, sourceURL string, publish bool) *Job {
	j := New(sourceURL, publish)
	j.ID = jobID
	return j
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// SetResult records the conversion outcome.
func (j *Job) SetResult(res Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Result = &res
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var res *Result
	if j.Result != nil {
		c := *j.Result
		res = &c
	}

	return &Job{
		ID:          j.ID,
		SourceURL:   j.SourceURL,
		Publish:     j.Publish,
		Status:      j.Status,
		Error:       j.Error,
		Result:      res,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
