package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	attrs := map[string]interface{}{
		"total_purchases": 650000.0,
		"discount":        5.0,
		"has_referrer":    true,
	}

	ok, err := Evaluate("total_purchases >= 100000.0 && has_referrer", attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate("discount > 10.0", attrs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateRejectsNonBool(t *testing.T) {
	_, err := Evaluate("discount + 1.0", map[string]interface{}{"discount": 1.0})
	require.Error(t, err)
}

func TestEvaluateCompileError(t *testing.T) {
	_, err := Evaluate("unknown_var > 1", map[string]interface{}{"discount": 1.0})
	require.Error(t, err)
}

func TestStructToMap(t *testing.T) {
	m := StructToMap(struct {
		Name string `json:"name"`
	}{Name: "x"})
	require.Equal(t, "x", m["name"])
}
