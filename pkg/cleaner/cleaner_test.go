package cleaner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

func sampleOperations() []model.CleaningOperation {
	ctxA := model.CleaningContext{SchemaName: "dev", TableName: "customers_silver", RowIdentifier: "C1"}
	ctxB := model.CleaningContext{SchemaName: "dev", TableName: "customers_silver", RowIdentifier: "C2"}
	return []model.CleaningOperation{
		ctxA.NewOperation("phone", "9123 4567", "+6591234567", model.OperationTransformation, "standardize_phone_number"),
		ctxA.NewOperation("email", nil, "None", model.OperationNullFill, "fill_null"),
		ctxB.NewOperation("phone", "65-9876-5432", "+6598765432", model.OperationTransformation, "standardize_phone_number"),
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(sampleOperations())
	require.Len(t, summary, 2)

	assert.Equal(t, OperationCount{
		TableName:         "customers_silver",
		ColumnName:        "phone",
		CleaningOperation: model.OperationTransformation,
		CleaningReason:    "standardize_phone_number",
		Count:             2,
	}, summary[0])
	assert.Equal(t, "email", summary[1].ColumnName)
	assert.Equal(t, 1, summary[1].Count)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Empty(t, Summarize(nil))
}

func TestByRow(t *testing.T) {
	rows := ByRow(sampleOperations())
	require.Len(t, rows["C1"], 2)
	assert.Equal(t, "phone", rows["C1"][0].ColumnName)
	assert.Equal(t, "email", rows["C1"][1].ColumnName)
	assert.Len(t, rows["C2"], 1)
}

func TestMemoryRecorder(t *testing.T) {
	rec := NewMemoryRecorder()
	run := uuid.New()

	require.NoError(t, rec.RecordCleaningOperations(context.Background(), run, sampleOperations()[:1]))
	require.NoError(t, rec.RecordCleaningOperations(context.Background(), run, sampleOperations()[1:]))

	assert.Len(t, rec.Operations(run), 3)
	assert.Empty(t, rec.Operations(uuid.New()))
}

func TestNewRecorderRejectsNilArguments(t *testing.T) {
	_, err := NewRecorder(context.Background(), nil, "dev", zap.NewNop())
	assert.Error(t, err)
}
