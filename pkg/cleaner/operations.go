// pkg/cleaner/operations.go
package cleaner

import (
	"sort"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// OperationCount is the number of rewrites of one column by one rule
type OperationCount struct {
	TableName         string
	ColumnName        string
	CleaningOperation string
	CleaningReason    string
	Count             int
}

// Summarize groups operations by table, column, kind and reason. The result
// is ordered by descending count, then by table, column and reason.
func Summarize(operations []model.CleaningOperation) []OperationCount {
	type groupKey struct {
		table, column, kind, reason string
	}

	counts := make(map[groupKey]int)
	for _, op := range operations {
		counts[groupKey{op.TableName, op.ColumnName, op.CleaningOperation, op.CleaningReason}]++
	}

	summary := make([]OperationCount, 0, len(counts))
	for k, n := range counts {
		summary = append(summary, OperationCount{
			TableName:         k.table,
			ColumnName:        k.column,
			CleaningOperation: k.kind,
			CleaningReason:    k.reason,
			Count:             n,
		})
	}

	sort.Slice(summary, func(i, j int) bool {
		a, b := summary[i], summary[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.TableName != b.TableName {
			return a.TableName < b.TableName
		}
		if a.ColumnName != b.ColumnName {
			return a.ColumnName < b.ColumnName
		}
		if a.CleaningOperation != b.CleaningOperation {
			return a.CleaningOperation < b.CleaningOperation
		}
		return a.CleaningReason < b.CleaningReason
	})
	return summary
}

// ByRow groups operations by row identifier, keeping their order
func ByRow(operations []model.CleaningOperation) map[string][]model.CleaningOperation {
	rows := make(map[string][]model.CleaningOperation)
	for _, op := range operations {
		rows[op.RowIdentifier] = append(rows[op.RowIdentifier], op)
	}
	return rows
}
