package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1+2", "3"},
		{"2+3*4", "14"},
		{"(2+3)*4", "20"},
		{"10/4", "2.5"},
		{"-5+3", "-2"},
		{"--5", "5"},
		{"2 * (1 + 1)", "4"},
		{"3.5*2", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Calculator{}.Execute(context.Background(), map[string]any{"expression": tt.expr})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatorErrors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "2+", "(1+2", "1+x", "1)2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Calculator{}.Execute(context.Background(), map[string]any{"expression": expr})
			assert.Error(t, err)
		})
	}
}

func TestLocalTimeFormat(t *testing.T) {
	got, err := LocalTime{}.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \(\w+\)$`, got)
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(Calculator{})
	r.Register(LocalTime{})
	assert.Equal(t, 2, r.Len())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "calculator", defs[0].Function.Name)

	got, err := r.Execute(context.Background(), "calculator", map[string]any{"expression": "6*7"})
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	_, err = r.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}
