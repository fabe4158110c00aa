package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/diagflow/diagflow/sdk"
)

// Definition is the serialisable form of a workflow: the node list and
// edge list, without the derived adjacency.
type Definition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Nodes       []*sdk.NodeSpec  `json:"nodes"`
	Connections []sdk.Connection `json:"connections,omitempty"`
}

// Definition returns the serialisable form of the workflow.
func (w *Workflow) Definition() *Definition {
	return &Definition{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Metadata:    w.Metadata,
		Nodes:       w.Nodes(),
		Connections: w.Connections(),
	}
}

// FromDefinition rebuilds a workflow from its serialised form, applying
// the same structural checks as incremental construction.
func FromDefinition(def *Definition) (*Workflow, error) {
	if def == nil || def.ID == "" {
		return nil, fmt.Errorf("workflow id must not be empty")
	}
	w := New(def.ID, def.Name, def.Description)
	if def.Metadata != nil {
		w.Metadata = def.Metadata
	}
	for _, spec := range def.Nodes {
		if err := w.AddNode(spec); err != nil {
			return nil, err
		}
	}
	for _, conn := range def.Connections {
		if err := w.AddConnection(conn.From, conn.To); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// MarshalJSON serialises through the definition form.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Definition())
}

// UnmarshalJSON rebuilds the workflow through FromDefinition.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	rebuilt, err := FromDefinition(&def)
	if err != nil {
		return err
	}
	*w = *rebuilt
	return nil
}
