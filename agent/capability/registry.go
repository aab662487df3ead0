package capability

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

var ErrDuplicate = errors.New("duplicate capability")

// Descriptor is the public view of one registry entry.
type Descriptor struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Idempotent  bool                       `json:"idempotent"`
	Stateful    bool                       `json:"stateful"`
	Schema      map[string]contractx.Param `json:"schema"`
}

// Registry maps capability names to implementations. It is fixed at
// construction and safe for concurrent reads.
type Registry struct {
	caps  map[string]contractx.Capability
	names []string
}

func NewRegistry(caps ...contractx.Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]contractx.Capability, len(caps))}
	for _, c := range caps {
		if c == nil {
			continue
		}
		name := strings.TrimSpace(c.Name())
		if name == "" {
			return nil, fmt.Errorf("%w: capability with empty name", contractx.ErrValidation)
		}
		if _, ok := r.caps[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		r.caps[name] = c
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) Lookup(name string) (contractx.Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownCapability, name)
	}
	return c, nil
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		c := r.caps[name]
		_, stateful := c.(contractx.Stateful)
		out = append(out, Descriptor{
			Name:        name,
			Description: c.Description(),
			Idempotent:  c.Idempotent(),
			Stateful:    stateful,
			Schema:      c.Schema(),
		})
	}
	return out
}

// ToolInfos renders every contract as an eino tool description.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(r.names))
	for _, name := range r.names {
		c := r.caps[name]
		params := make(map[string]*schema.ParameterInfo, len(c.Schema()))
		for pname, p := range c.Schema() {
			params[pname] = &schema.ParameterInfo{
				Type:     dataType(p.Type),
				Desc:     p.Desc,
				Required: p.Required,
			}
		}
		out = append(out, &schema.ToolInfo{
			Name:        name,
			Desc:        c.Description(),
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

func dataType(t contractx.SemanticType) schema.DataType {
	switch t {
	case contractx.TypeNumber:
		return schema.Number
	case contractx.TypeTimeIndex:
		return schema.Integer
	case contractx.TypeBoolean:
		return schema.Boolean
	case contractx.TypeRowSet, contractx.TypeObject:
		return schema.Object
	default:
		return schema.String
	}
}

// CheckInputs verifies required parameters are bound and every bound value fits
// its declared semantic type. Unknown parameters are rejected.
func CheckInputs(c contractx.Capability, inputs map[string]any) error {
	params := c.Schema()
	for name, p := range params {
		v, ok := inputs[name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: %s requires %s", contractx.ErrValidation, c.Name(), name)
			}
			continue
		}
		if !fits(p.Type, v) {
			return fmt.Errorf("%w: %s.%s expects %s, got %T", contractx.ErrValidation, c.Name(), name, p.Type, v)
		}
	}
	for name := range inputs {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: %s has no parameter %s", contractx.ErrValidation, c.Name(), name)
		}
	}
	return nil
}

func fits(t contractx.SemanticType, v any) bool {
	switch t {
	case contractx.TypeNumber, contractx.TypeTimeIndex:
		switch x := v.(type) {
		case int, int32, int64, float32, float64:
			return true
		case string:
			_, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			return err == nil
		}
		return false
	case contractx.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case contractx.TypeRowSet:
		switch v.(type) {
		case contractx.RowSet, *contractx.RowSet:
			return true
		}
		return false
	case contractx.TypeIdentifier, contractx.TypeFreeText:
		switch v.(type) {
		case string, int, int64, float64:
			return true
		}
		return false
	default:
		return true
	}
}
