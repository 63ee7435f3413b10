package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/pkg/schema"
)

func TestRegistryDialects(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		dialect string
		want    string
		wantErr bool
	}{
		{dialect: "", want: "expr"},
		{dialect: "expr", want: "expr"},
		{dialect: "cel", want: "cel"},
		{dialect: "jsonpath", wantErr: true},
	}

	for _, tt := range tests {
		eng, err := r.ForDialect(tt.dialect)
		if tt.wantErr {
			require.Error(t, err)
			var ferr *schema.FlowError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, schema.ErrCodeExpression, ferr.Code)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, eng.Name())
	}
}

func TestExprCheck(t *testing.T) {
	e := NewExprEngine()

	assert.NoError(t, e.Check(`state.retries < 3 && node.kind == "agent"`))
	assert.Error(t, e.Check(`state.retries <`))
	assert.Error(t, e.Check(""))
}

func TestExprEvaluate(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "a + b", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

func TestCELCheck(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	assert.NoError(t, e.Check(`state["retries"] == 0`))
	assert.Error(t, e.Check(`state[`))
	assert.Error(t, e.Check(""))
}

func TestCELEvaluateMissingKeysDefaultEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(metadata) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
