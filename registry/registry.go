package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// Status is the lifecycle state of a registered workflow.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusRetired    Status = "retired"
)

// Entry is one registered workflow plus its dependency adjacency.
type Entry struct {
	Workflow    *workflow.Workflow
	Status      Status
	Version     string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// DependsOn holds ids of workflows this one references;
	// DependedOnBy is the reverse edge set.
	DependsOn    map[string]struct{}
	DependedOnBy map[string]struct{}
}

// Registry is the in-process named collection of workflows available
// for reference-node targeting. Mutators take the exclusive lock,
// readers the shared one. Reference nodes capture the workflow pointer
// at invocation start, so a mid-execution re-registration never swaps
// the graph a running invocation is executing.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  sdk.Logger
}

// New creates an empty registry.
func New(logger sdk.Logger) *Registry {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Register inserts or updates a workflow. Updating preserves the
// reverse dependency edges and the original creation time. Dependencies
// declared by reference nodes inside the workflow are recorded
// automatically.
func (r *Registry) Register(wf *workflow.Workflow, status Status, description, version string) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, exists := r.entries[wf.ID]
	if exists {
		entry.Workflow = wf
		entry.Status = status
		entry.Version = version
		entry.Description = description
		entry.UpdatedAt = now
		entry.DependsOn = make(map[string]struct{})
	} else {
		entry = &Entry{
			Workflow:     wf,
			Status:       status,
			Version:      version,
			Description:  description,
			CreatedAt:    now,
			UpdatedAt:    now,
			DependsOn:    make(map[string]struct{}),
			DependedOnBy: make(map[string]struct{}),
		}
		r.entries[wf.ID] = entry
	}

	for _, target := range referenceTargets(wf) {
		r.addDependencyLocked(wf.ID, target)
	}

	r.logger.Info("workflow registered",
		"workflow_id", wf.ID,
		"status", string(status),
		"version", version,
		"updated", exists,
	)
	return nil
}

// referenceTargets collects the workflow ids referenced by a workflow's
// reference nodes.
func referenceTargets(wf *workflow.Workflow) []string {
	var targets []string
	for _, spec := range wf.Nodes() {
		if spec.Kind != sdk.KindReference {
			continue
		}
		if id, _ := spec.Config.GetString(sdk.CfgWorkflowID); id != "" {
			targets = append(targets, id)
		}
		targets = append(targets, spec.Config.GetStringSlice(sdk.CfgWorkflowIDs)...)
	}
	return targets
}

// Get returns the registered workflow for id.
func (r *Registry) Get(id string) (*workflow.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.Workflow == nil {
		return nil, false
	}
	return entry.Workflow, true
}

// GetEntry returns a copy of the registry entry for id. The workflow
// pointer is shared; the adjacency sets are copied.
func (r *Registry) GetEntry(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	cp := *entry
	cp.DependsOn = copySet(entry.DependsOn)
	cp.DependedOnBy = copySet(entry.DependedOnBy)
	return &cp, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return ok && entry.Workflow != nil
}

// SetStatus updates the lifecycle status of a registered workflow.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("workflow not registered: %s", id)
	}
	entry.Status = status
	entry.UpdatedAt = time.Now()
	return nil
}

// ActiveIDs returns the ids of active workflows, sorted.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, entry := range r.entries {
		if entry.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Search returns ids of workflows whose id or name contains the
// substring, case-insensitively, sorted.
func (r *Registry) Search(substring string) []string {
	needle := strings.ToLower(substring)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, entry := range r.entries {
		if entry.Workflow == nil {
			continue
		}
		if strings.Contains(strings.ToLower(id), needle) ||
			strings.Contains(strings.ToLower(entry.Workflow.Name), needle) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AddDependency records that workflow from references workflow to.
func (r *Registry) AddDependency(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[from]; !ok {
		return fmt.Errorf("workflow not registered: %s", from)
	}
	r.addDependencyLocked(from, to)
	return nil
}

// addDependencyLocked wires both directions of a dependency edge. The
// target may not be registered yet; its reverse edge is created when it
// arrives, so edges to it are kept in a placeholder entry-less form by
// materialising the target lazily.
func (r *Registry) addDependencyLocked(from, to string) {
	fromEntry := r.entries[from]
	fromEntry.DependsOn[to] = struct{}{}
	if toEntry, ok := r.entries[to]; ok {
		toEntry.DependedOnBy[from] = struct{}{}
	} else {
		// Target not registered yet: park the reverse edge on a stub so
		// Dependents answers correctly once it is registered.
		r.entries[to] = &Entry{
			Status:       StatusDraft,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
			DependsOn:    make(map[string]struct{}),
			DependedOnBy: map[string]struct{}{from: {}},
		}
	}
}

// Dependents returns the ids of workflows that reference id, sorted.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.DependedOnBy))
	for dep := range entry.DependedOnBy {
		ids = append(ids, dep)
	}
	sort.Strings(ids)
	return ids
}

// HasDependencyCycle reports whether following DependsOn edges from
// root ever returns to a visited workflow.
func (r *Registry) HasDependencyCycle(root string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	onPath := make(map[string]bool)
	done := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		entry, ok := r.entries[id]
		if !ok {
			return false
		}
		onPath[id] = true
		for dep := range entry.DependsOn {
			if onPath[dep] {
				return true
			}
			if !done[dep] && visit(dep) {
				return true
			}
		}
		onPath[id] = false
		done[id] = true
		return false
	}

	return visit(root)
}

// Statistics reports workflow counts per lifecycle status.
type Statistics struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Statistics returns registry counts. Stub entries created by forward
// dependency edges count under draft.
func (r *Registry) Statistics() *Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &Statistics{ByStatus: make(map[Status]int)}
	for _, entry := range r.entries {
		if entry.Workflow == nil {
			// forward-edge stub, not a registered workflow
			continue
		}
		stats.Total++
		stats.ByStatus[entry.Status]++
	}
	return stats
}

func copySet(set map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(set))
	for k := range set {
		cp[k] = struct{}{}
	}
	return cp
}
