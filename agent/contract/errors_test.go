package contract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "ambiguous", err: fmt.Errorf("%w: top=0.2", ErrClassificationAmbiguous), want: KindClassificationAmbiguous},
		{name: "plan", err: fmt.Errorf("%w: missing dataset", ErrPlanValidation), want: KindPlanValidation},
		{name: "contamination", err: fmt.Errorf("%w: sig", ErrContaminationDetected), want: KindContamination},
		{name: "blocked write wins", err: fmt.Errorf("%w: %w", ErrContaminationDetected, ErrTrainingBlocked), want: KindTrainingBlocked},
		{name: "lock", err: ErrSessionLockTimeout, want: KindSessionLockTimeout},
		{name: "timeout", err: ErrToolTimeout, want: KindToolTimeout},
		{name: "validation", err: fmt.Errorf("%w: empty text", ErrValidation), want: KindInvalidRequest},
		{name: "canceled", err: fmt.Errorf("step 2: %w", context.Canceled), want: KindCanceled},
		{name: "other", err: errors.New("connection refused"), want: KindCapability},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.name)
	}
}

func TestPipelineError(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("%w: session=sqlgen/default", ErrContaminationDetected)
	err := error(&PipelineError{
		Kind:       KindContamination,
		Category:   CategoryLookup,
		StepID:     "s1",
		Capability: "retrieve",
		Cause:      cause,
	})

	assert.ErrorIs(t, err, ErrContaminationDetected)
	assert.NotErrorIs(t, err, ErrToolTimeout)
	assert.Equal(t, KindContamination, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "CONTAMINATION_DETECTED category=lookup step=s1 capability=retrieve: contamination detected: session=sqlgen/default", err.Error())

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "retrieve", pe.Capability)

	canceled := &PipelineError{Kind: KindCanceled, Cause: context.Canceled}
	assert.ErrorIs(t, canceled, context.Canceled)
}

func TestEntitiesMergeAndMap(t *testing.T) {
	t.Parallel()

	surface := Entities{Dataset: "FD001", Unit: "59", Sensor: "sensor_measurement_4"}
	merged := surface.Merge(Entities{Dataset: " FD002 ", TimeIndex: "20"})

	assert.Equal(t, "FD002", merged.Dataset)
	assert.Equal(t, "59", merged.Unit)
	assert.Equal(t, map[string]any{
		EntityDataset:   "FD002",
		EntityUnit:      "59",
		EntityTimeIndex: "20",
		EntitySensor:    "sensor_measurement_4",
	}, merged.Map())
	assert.True(t, Entities{}.Empty())

	_, ok := merged.Lookup(EntityComparisonTarget)
	assert.False(t, ok)
}

func TestCategoryRankAndParse(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(Categories); i++ {
		assert.LessOrEqual(t, Categories[i-1].Rank(), Categories[i].Rank())
	}

	c, err := ParseCategory(" Prediction ")
	require.NoError(t, err)
	assert.Equal(t, CategoryPrediction, c)

	_, err = ParseCategory("chitchat")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRowSetScalar(t *testing.T) {
	t.Parallel()

	v, ok := RowSet{Columns: []string{"RUL"}, Rows: [][]any{{int64(112)}}}.Scalar()
	require.True(t, ok)
	assert.Equal(t, int64(112), v)

	_, ok = RowSet{Columns: []string{"a", "b"}, Rows: [][]any{{1, 2}}}.Scalar()
	assert.False(t, ok)

	assert.Equal(t, 1, RowSet{Columns: []string{"unit_number", "RUL"}}.ColumnIndex("rul"))
}
