package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/condition"
)

func TestEvaluateOperators(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		context map[string]any
		want    bool
	}{
		{
			name:    "equal strings",
			params:  map[string]any{"field": "country", "operator": "==", "value": "US"},
			context: map[string]any{"country": "US"},
			want:    true,
		},
		{
			name:    "equal strings mismatch",
			params:  map[string]any{"field": "country", "operator": "==", "value": "US"},
			context: map[string]any{"country": "BR"},
			want:    false,
		},
		{
			name:    "equal across numeric types",
			params:  map[string]any{"field": "score", "operator": "==", "value": 5},
			context: map[string]any{"score": float64(5)},
			want:    true,
		},
		{
			name:    "not equal",
			params:  map[string]any{"field": "plan", "operator": "!=", "value": "free"},
			context: map[string]any{"plan": "pro"},
			want:    true,
		},
		{
			name:    "greater than",
			params:  map[string]any{"field": "opens", "operator": ">", "value": 5},
			context: map[string]any{"opens": float64(6)},
			want:    true,
		},
		{
			name:    "greater than boundary",
			params:  map[string]any{"field": "opens", "operator": ">", "value": 5},
			context: map[string]any{"opens": float64(5)},
			want:    false,
		},
		{
			name:    "greater or equal boundary",
			params:  map[string]any{"field": "opens", "operator": ">=", "value": 5},
			context: map[string]any{"opens": float64(5)},
			want:    true,
		},
		{
			name:    "less than",
			params:  map[string]any{"field": "age_days", "operator": "<", "value": 30},
			context: map[string]any{"age_days": 12},
			want:    true,
		},
		{
			name:    "less or equal",
			params:  map[string]any{"field": "age_days", "operator": "<=", "value": 30},
			context: map[string]any{"age_days": 30},
			want:    true,
		},
		{
			name:    "numeric string coerces",
			params:  map[string]any{"field": "opens", "operator": ">", "value": "5"},
			context: map[string]any{"opens": "7"},
			want:    true,
		},
		{
			name:    "in list",
			params:  map[string]any{"field": "country", "operator": "in", "value": []any{"US", "CA"}},
			context: map[string]any{"country": "CA"},
			want:    true,
		},
		{
			name:    "not in list",
			params:  map[string]any{"field": "country", "operator": "not_in", "value": []any{"US", "CA"}},
			context: map[string]any{"country": "BR"},
			want:    true,
		},
		{
			name:    "contains substring",
			params:  map[string]any{"field": "email", "operator": "contains", "value": "@example.com"},
			context: map[string]any{"email": "ada@example.com"},
			want:    true,
		},
		{
			name:    "contains list member",
			params:  map[string]any{"field": "tags", "operator": "contains", "value": "vip"},
			context: map[string]any{"tags": []any{"new", "vip"}},
			want:    true,
		},
		{
			name:    "dotted path into nested payload",
			params:  map[string]any{"field": "lead.country", "operator": "==", "value": "US"},
			context: map[string]any{"lead": map[string]any{"country": "US"}},
			want:    true,
		},
		{
			name:    "missing field is false not error",
			params:  map[string]any{"field": "country", "operator": "==", "value": "US"},
			context: map[string]any{},
			want:    false,
		},
		{
			name:    "missing nested field is false",
			params:  map[string]any{"field": "lead.country", "operator": "==", "value": "US"},
			context: map[string]any{"lead": map[string]any{}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := condition.Evaluate(tt.params, tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateMalformedParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		context map[string]any
		wantErr error
	}{
		{
			name:    "missing field param",
			params:  map[string]any{"operator": "==", "value": "US"},
			context: map[string]any{"country": "US"},
			wantErr: condition.ErrMissingField,
		},
		{
			name:    "missing operator param",
			params:  map[string]any{"field": "country", "value": "US"},
			context: map[string]any{"country": "US"},
			wantErr: condition.ErrMissingOperator,
		},
		{
			name:    "unknown operator",
			params:  map[string]any{"field": "country", "operator": "~=", "value": "US"},
			context: map[string]any{"country": "US"},
			wantErr: condition.ErrUnknownOperator,
		},
		{
			name:    "ordering on non-numeric values",
			params:  map[string]any{"field": "country", "operator": ">", "value": 5},
			context: map[string]any{"country": "US"},
			wantErr: condition.ErrNotComparable,
		},
		{
			name:    "membership without a list",
			params:  map[string]any{"field": "country", "operator": "in", "value": "US"},
			context: map[string]any{"country": "US"},
			wantErr: condition.ErrMembershipTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := condition.Evaluate(tt.params, tt.context)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
