package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/diagflow/diagflow/sdk"
)

// DefaultMergeKey is used when MERGED mode is requested with an empty
// mergeKey. The validator warns about that case at registration time.
const DefaultMergeKey = "input"

// InputParameter declares one input a node reads from the context.
type InputParameter struct {
	Key         string
	Alias       string
	Required    bool
	Default     any
	HasDefault  bool
	DataType    string
	Description string
}

// InputSpec is a node's declared input list plus the optional merge key.
// A non-empty merge key selects MERGED mode; otherwise MULTIPLE.
type InputSpec struct {
	Params   []InputParameter
	MergeKey string
	Merged   bool
}

// Mode returns the derived input mode name.
func (s *InputSpec) Mode() string {
	if s.Merged {
		return "MERGED"
	}
	return "MULTIPLE"
}

// ParseInputSpec reads the inputs declaration from a node config.
// Returns nil when the node declares no inputs.
func ParseInputSpec(cfg sdk.ConfigMap) (*InputSpec, error) {
	raw, ok := cfg.GetSlice(sdk.CfgInputs)
	if !ok {
		return nil, nil
	}

	spec := &InputSpec{}
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input %d is not an object", i)
		}
		pm := sdk.ConfigMap(entry)
		key, _ := pm.GetString("key")
		if key == "" {
			return nil, fmt.Errorf("input %d has an empty key", i)
		}
		alias, _ := pm.GetString("alias")
		if alias == "" {
			alias = key
		}
		def, hasDefault := entry["default"]
		dataType, _ := pm.GetString("dataType")
		description, _ := pm.GetString("description")
		spec.Params = append(spec.Params, InputParameter{
			Key:         key,
			Alias:       alias,
			Required:    pm.BoolOrDefault("required", false),
			Default:     def,
			HasDefault:  hasDefault,
			DataType:    dataType,
			Description: description,
		})
	}

	if mergeKey, present := cfg.GetString(sdk.CfgMergeKey); present {
		spec.Merged = true
		spec.MergeKey = mergeKey
		if spec.MergeKey == "" {
			spec.MergeKey = DefaultMergeKey
		}
	}
	return spec, nil
}

// MissingInputError reports a required input the context could not
// provide.
type MissingInputError struct {
	Key   string
	Alias string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required input: key=%s alias=%s", e.Key, e.Alias)
}

// Resolution is the gathered input for one node execution.
type Resolution struct {
	// Value is what the node sees: the alias map in MULTIPLE mode, or
	// {mergeKey: aliasMap} in MERGED mode.
	Value any
	// Raw is always the alias map, whichever the mode.
	Raw map[string]any
	// Metadata describes how resolution went.
	Metadata map[string]any
}

// Resolver gathers node inputs from an execution context per the node's
// input spec.
type Resolver struct {
	logger sdk.Logger
}

// New creates a resolver.
func New(logger sdk.Logger) *Resolver {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Resolver{logger: logger}
}

// Resolve iterates the spec's parameters in declared order. Present keys
// bind alias to value; absent keys fall back to the declared default;
// absent required keys without a default fail with MissingInputError.
func (r *Resolver) Resolve(ec *sdk.ExecutionContext, spec *InputSpec) (*Resolution, error) {
	values := make(map[string]any)
	required := 0
	available := 0

	for _, p := range spec.Params {
		if p.Required {
			required++
		}
		value, ok := r.lookup(ec, p.Key)
		switch {
		case ok:
			values[p.Alias] = value
			available++
		case p.HasDefault:
			values[p.Alias] = p.Default
			available++
		case p.Required:
			return nil, &MissingInputError{Key: p.Key, Alias: p.Alias}
		default:
			// Optional and absent: omitted from the map entirely.
			r.logger.Debug("optional input absent", "key", p.Key, "alias", p.Alias)
		}
	}

	res := &Resolution{
		Raw: values,
		Metadata: map[string]any{
			"inputMode":       spec.Mode(),
			"totalInputs":     len(spec.Params),
			"requiredInputs":  required,
			"availableInputs": available,
		},
	}
	if spec.Merged {
		res.Value = map[string]any{spec.MergeKey: values}
	} else {
		res.Value = values
	}
	return res, nil
}

// lookup reads a key from the context. Keys with a dotted path whose
// root is a stored value are resolved into that value with gjson, so a
// node can declare "parse_result.error_count" without an intermediate
// extract step.
func (r *Resolver) lookup(ec *sdk.ExecutionContext, key string) (any, bool) {
	if v, ok := ec.Get(key); ok {
		return v, true
	}

	dot := strings.IndexByte(key, '.')
	if dot <= 0 {
		return nil, false
	}
	root, path := key[:dot], key[dot+1:]
	v, ok := ec.Get(root)
	if !ok || v == nil {
		return nil, false
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("input field path: value not serialisable", "key", key, "error", err)
		return nil, false
	}
	result := gjson.GetBytes(encoded, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}
