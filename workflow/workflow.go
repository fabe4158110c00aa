package workflow

import (
	"fmt"

	"github.com/diagflow/diagflow/sdk"
)

// Workflow is a DAG of nodes and connections. Mutators enforce that the
// connection set stays a subset of existingNodes x existingNodes; acyclicity
// is checked by Validate and TopologicalOrder.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Metadata    map[string]any

	nodes map[string]*sdk.NodeSpec
	order []string // node ids in insertion order, for deterministic replays
	succ  map[string][]string
	pred  map[string][]string
	conns []sdk.Connection
}

// New creates an empty workflow.
func New(id, name, description string) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		Metadata:    make(map[string]any),
		nodes:       make(map[string]*sdk.NodeSpec),
		succ:        make(map[string][]string),
		pred:        make(map[string][]string),
	}
}

// AddNode registers a node definition. Node ids must be unique and the
// kind must be known.
func (w *Workflow) AddNode(spec *sdk.NodeSpec) error {
	if spec == nil || spec.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if !spec.Kind.Valid() {
		return fmt.Errorf("node %s: unknown kind: %s", spec.ID, spec.Kind)
	}
	if _, exists := w.nodes[spec.ID]; exists {
		return fmt.Errorf("duplicate node id: %s", spec.ID)
	}
	if spec.Config == nil {
		spec.Config = sdk.ConfigMap{}
	}
	w.nodes[spec.ID] = spec
	w.order = append(w.order, spec.ID)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (w *Workflow) RemoveNode(id string) {
	if _, exists := w.nodes[id]; !exists {
		return
	}
	delete(w.nodes, id)
	for i, nid := range w.order {
		if nid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}

	kept := w.conns[:0]
	for _, c := range w.conns {
		if c.From != id && c.To != id {
			kept = append(kept, c)
		}
	}
	w.conns = kept

	delete(w.succ, id)
	delete(w.pred, id)
	for from, tos := range w.succ {
		w.succ[from] = removeString(tos, id)
	}
	for to, froms := range w.pred {
		w.pred[to] = removeString(froms, id)
	}
}

// AddConnection adds a directed edge. Both endpoints must exist.
func (w *Workflow) AddConnection(from, to string) error {
	if _, exists := w.nodes[from]; !exists {
		return fmt.Errorf("connection references non-existent node: %s", from)
	}
	if _, exists := w.nodes[to]; !exists {
		return fmt.Errorf("connection references non-existent node: %s", to)
	}
	w.conns = append(w.conns, sdk.Connection{From: from, To: to})
	w.succ[from] = append(w.succ[from], to)
	w.pred[to] = append(w.pred[to], from)
	return nil
}

// Node returns the definition for id.
func (w *Workflow) Node(id string) (*sdk.NodeSpec, bool) {
	n, ok := w.nodes[id]
	return n, ok
}

// Nodes returns all node definitions in insertion order.
func (w *Workflow) Nodes() []*sdk.NodeSpec {
	out := make([]*sdk.NodeSpec, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.nodes[id])
	}
	return out
}

// NodeIDs returns all node ids in insertion order.
func (w *Workflow) NodeIDs() []string {
	return append([]string(nil), w.order...)
}

// Size returns the node count.
func (w *Workflow) Size() int {
	return len(w.nodes)
}

// Connections returns a copy of the edge list.
func (w *Workflow) Connections() []sdk.Connection {
	return append([]sdk.Connection(nil), w.conns...)
}

// Successors returns the direct successors of id.
func (w *Workflow) Successors(id string) []string {
	return append([]string(nil), w.succ[id]...)
}

// Predecessors returns the direct predecessors of id.
func (w *Workflow) Predecessors(id string) []string {
	return append([]string(nil), w.pred[id]...)
}

// Sources returns nodes with no incoming edges, in insertion order.
func (w *Workflow) Sources() []string {
	var out []string
	for _, id := range w.order {
		if len(w.pred[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns nodes with no outgoing edges, in insertion order.
func (w *Workflow) Sinks() []string {
	var out []string
	for _, id := range w.order {
		if len(w.succ[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// dfs colouring for cycle detection
const (
	white = 0 // unvisited
	grey  = 1 // on the current path
	black = 2 // fully explored
)

// HasCycles reports whether the graph contains a directed cycle.
func (w *Workflow) HasCycles() bool {
	colour := make(map[string]int, len(w.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		for _, next := range w.succ[id] {
			switch colour[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		colour[id] = black
		return false
	}

	for _, id := range w.order {
		if colour[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalOrder returns a linear extension of the DAG using Kahn's
// algorithm. Ties are broken by node insertion order so repeated runs
// schedule identically.
func (w *Workflow) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(w.nodes))
	rank := make(map[string]int, len(w.nodes))
	for i, id := range w.order {
		inDegree[id] = len(w.pred[id])
		rank[id] = i
	}

	var ready []string
	for _, id := range w.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(w.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		for _, next := range w.succ[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertInOrder(ready, next, rank)
			}
		}
	}

	if len(result) != len(w.nodes) {
		return nil, fmt.Errorf("workflow contains a cycle")
	}
	return result, nil
}

// insertInOrder keeps the ready queue sorted by insertion rank.
func insertInOrder(queue []string, id string, rank map[string]int) []string {
	for i, qid := range queue {
		if rank[id] < rank[qid] {
			queue = append(queue[:i], append([]string{id}, queue[i:]...)...)
			return queue
		}
	}
	return append(queue, id)
}

func removeString(slice []string, s string) []string {
	out := slice[:0]
	for _, v := range slice {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
