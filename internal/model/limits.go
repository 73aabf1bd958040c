package model

import (
	"fmt"
	"slices"
)

// LimitKind is a resource dimension that can be limited by a host controller.
type LimitKind string

const (
	LimitKindMemory LimitKind = "memory"
	LimitKindCPU    LimitKind = "cpu"
	LimitKindPIDs   LimitKind = "pids"
)

// LimitKindPrecedence is the enforcement precedence when only partial enforcement
// is possible, the first kinds are the last ones to be degraded.
var LimitKindPrecedence = []LimitKind{LimitKindMemory, LimitKindCPU, LimitKindPIDs}

// RequestedLimits are the limits requested for a run, zero values are not requested.
type RequestedLimits struct {
	MemoryBytes int64
	CPUs        float64
	PIDs        int64
}

// Validate validates the requested limits.
func (r RequestedLimits) Validate() error {
	if r.MemoryBytes < 0 {
		return fmt.Errorf("memory limit can't be negative: %w", ErrNotValid)
	}
	if r.CPUs < 0 {
		return fmt.Errorf("cpu limit can't be negative: %w", ErrNotValid)
	}
	if r.PIDs < 0 {
		return fmt.Errorf("pids limit can't be negative: %w", ErrNotValid)
	}
	return nil
}

// HostCapabilities are the control group controllers available on the host.
type HostCapabilities struct {
	Memory bool
	CPU    bool
	PIDs   bool
	// CgroupVersion is 1 or 2, zero when no control group hierarchy was found.
	CgroupVersion int
}

// Has returns true if the controller for the kind is available.
func (c HostCapabilities) Has(kind LimitKind) bool {
	switch kind {
	case LimitKindMemory:
		return c.Memory
	case LimitKindCPU:
		return c.CPU
	case LimitKindPIDs:
		return c.PIDs
	}
	return false
}

// LimitEntry is a single resolved limit.
type LimitEntry struct {
	Kind LimitKind `json:"kind"`
	// Value unit depends on the kind: bytes for memory, nano CPUs for cpu and count for pids.
	Value    int64  `json:"value"`
	Enforced bool   `json:"enforced"`
	Reason   string `json:"reason,omitempty"`
}

// ResourceLimitProfile is the resolved set of limits of a run, one entry per requested kind.
type ResourceLimitProfile struct {
	Entries []LimitEntry
}

// Entry returns the entry of a kind.
func (p ResourceLimitProfile) Entry(kind LimitKind) (LimitEntry, bool) {
	for _, e := range p.Entries {
		if e.Kind == kind {
			return e, true
		}
	}
	return LimitEntry{}, false
}

// Enforced returns true if the kind is present and enforced.
func (p ResourceLimitProfile) Enforced(kind LimitKind) bool {
	e, ok := p.Entry(kind)
	return ok && e.Enforced
}

// Advisory returns the kinds that are recorded but not enforced.
func (p ResourceLimitProfile) Advisory() []LimitKind {
	var kinds []LimitKind
	for _, e := range p.Entries {
		if !e.Enforced {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Degrade returns a copy of the profile with the kind marked as advisory.
func (p ResourceLimitProfile) Degrade(kind LimitKind, reason string) ResourceLimitProfile {
	entries := slices.Clone(p.Entries)
	for i := range entries {
		if entries[i].Kind == kind && entries[i].Enforced {
			entries[i].Enforced = false
			entries[i].Reason = reason
		}
	}
	return ResourceLimitProfile{Entries: entries}
}

// LowestPrecedenceEnforced returns the enforced kind that should be degraded first.
func (p ResourceLimitProfile) LowestPrecedenceEnforced() (LimitKind, bool) {
	for i := len(LimitKindPrecedence) - 1; i >= 0; i-- {
		if p.Enforced(LimitKindPrecedence[i]) {
			return LimitKindPrecedence[i], true
		}
	}
	return "", false
}
