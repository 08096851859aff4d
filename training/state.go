package training

import (
	"strings"

	"github.com/tsawler/go-sdf/checkpoints"
)

// State is the mutable progress of a training run. It is owned by a Trainer
// and persisted wholesale in checkpoints.
type State struct {
	Epoch      int                `json:"epoch"`
	GlobalStep int                `json:"global_step"`
	LocalStep  int                `json:"local_step"`
	Stats      *checkpoints.Stats `json:"stats"`
}

// NewState returns the state of a run that has not trained yet
func NewState() State {
	return State{Stats: checkpoints.NewStats()}
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	out := s
	if s.Stats != nil {
		out.Stats = s.Stats.Clone()
	}
	return out
}

// Phase is the lifecycle stage of a Trainer
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseFresh
	PhaseResumed
	PhaseTraining
	PhaseEvaluating
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseFresh:
		return "fresh"
	case PhaseResumed:
		return "resumed"
	case PhaseTraining:
		return "training"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ResumeKind selects where a Trainer takes its initial weights from
type ResumeKind int

const (
	ResumeScratch ResumeKind = iota
	ResumeLatest
	ResumeBest
	ResumePath
)

// ResumePolicy is resolved once when a Trainer is created. Path is only used
// with ResumePath.
type ResumePolicy struct {
	Kind ResumeKind
	Path string
}

// ParseResumePolicy maps "scratch", "latest" and "best" to their policies;
// anything else is taken as a checkpoint path. An empty string means latest.
func ParseResumePolicy(s string) ResumePolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scratch":
		return ResumePolicy{Kind: ResumeScratch}
	case "", "latest":
		return ResumePolicy{Kind: ResumeLatest}
	case "best":
		return ResumePolicy{Kind: ResumeBest}
	default:
		return ResumePolicy{Kind: ResumePath, Path: s}
	}
}

func (p ResumePolicy) String() string {
	switch p.Kind {
	case ResumeScratch:
		return "scratch"
	case ResumeLatest:
		return "latest"
	case ResumeBest:
		return "best"
	default:
		return p.Path
	}
}
