package capability

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

type stubCapability struct {
	name   string
	params map[string]contractx.Param
}

func (s stubCapability) Name() string                       { return s.name }
func (s stubCapability) Description() string                { return "stub " + s.name }
func (s stubCapability) Schema() map[string]contractx.Param { return s.params }
func (s stubCapability) Idempotent() bool                   { return true }

func (s stubCapability) Invoke(context.Context, map[string]any) (any, error) {
	return nil, nil
}

type stubStateful struct {
	stubCapability
}

func (stubStateful) Reset(context.Context) error { return nil }
func (stubStateful) TrainingWrite(context.Context, contractx.TrainingExample) error {
	return contractx.ErrTrainingBlocked
}

func retrieveStub() stubStateful {
	return stubStateful{stubCapability{
		name: "retrieve",
		params: map[string]contractx.Param{
			"question":  {Type: contractx.TypeFreeText, Required: true},
			"dataset":   {Type: contractx.TypeIdentifier, Required: true},
			"unit":      {Type: contractx.TypeIdentifier},
			"aggregate": {Type: contractx.TypeBoolean},
		},
	}}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	infer := stubCapability{name: "infer", params: map[string]contractx.Param{
		"rows": {Type: contractx.TypeRowSet, Required: true},
	}}
	reg, err := NewRegistry(retrieveStub(), infer)
	require.NoError(t, err)

	assert.Equal(t, []string{"infer", "retrieve"}, reg.Names())

	c, err := reg.Lookup("retrieve")
	require.NoError(t, err)
	assert.Equal(t, "retrieve", c.Name())

	_, err = reg.Lookup("plot_everything")
	assert.ErrorIs(t, err, contractx.ErrUnknownCapability)

	desc := reg.Describe()
	require.Len(t, desc, 2)
	assert.False(t, desc[0].Stateful)
	assert.True(t, desc[1].Stateful)
}

func TestRegistryRejectsDuplicatesAndEmptyNames(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(retrieveStub(), retrieveStub())
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = NewRegistry(stubCapability{name: "  "})
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestRegistryToolInfos(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(retrieveStub())
	require.NoError(t, err)

	infos := reg.ToolInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, "retrieve", infos[0].Name)
	assert.Equal(t, "stub retrieve", infos[0].Desc)
	require.NotNil(t, infos[0].ParamsOneOf)

	assert.Equal(t, schema.Boolean, dataType(contractx.TypeBoolean))
	assert.Equal(t, schema.Integer, dataType(contractx.TypeTimeIndex))
	assert.Equal(t, schema.Object, dataType(contractx.TypeRowSet))
	assert.Equal(t, schema.String, dataType(contractx.TypeFreeText))
}

func TestCheckInputs(t *testing.T) {
	t.Parallel()

	c := retrieveStub()
	tests := []struct {
		name    string
		inputs  map[string]any
		wantErr bool
	}{
		{name: "complete", inputs: map[string]any{"question": "q", "dataset": "FD001", "unit": "59"}},
		{name: "numeric identifier", inputs: map[string]any{"question": "q", "dataset": "FD001", "unit": 59}},
		{name: "missing required", inputs: map[string]any{"question": "q"}, wantErr: true},
		{name: "wrong type", inputs: map[string]any{"question": "q", "dataset": "FD001", "aggregate": "yes"}, wantErr: true},
		{name: "unknown parameter", inputs: map[string]any{"question": "q", "dataset": "FD001", "colour": "red"}, wantErr: true},
	}
	for _, tt := range tests {
		err := CheckInputs(c, tt.inputs)
		if tt.wantErr {
			assert.ErrorIs(t, err, contractx.ErrValidation, tt.name)
			continue
		}
		assert.NoError(t, err, tt.name)
	}
}
