package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalBool(t *testing.T) {
	env := map[string]interface{}{
		"status":  "approved",
		"retries": 2,
		"blocked": false,
		"steps": map[string]interface{}{
			"code-review": map[string]interface{}{"score": 0.9},
		},
		"domain": "security",
		"tags":   []interface{}{},
	}

	testCases := []struct {
		src  string
		want bool
	}{
		{`status == "approved"`, true},
		{`status != 'approved'`, false},
		{`retries < 3`, true},
		{`retries >= 3`, false},
		{`retries == 2.0`, true},
		{`steps.code-review.score > 0.8 && !blocked`, true},
		{`steps.code-review.score > 0.95 || domain == "security"`, true},
		{`not blocked and (retries <= 2 or false)`, true},
		{`missing.field == null`, true},
		{`missing`, false},
		{`tags`, false},
		{`status`, true},
		{`"b" > "a"`, true},
		{`-1 < 0`, true},
		{`true && false || true`, true},
		{`!(true || false)`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			e, err := Compile(tc.src)
			require.NoError(t, err)
			got, err := e.EvalBool(env)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{
		``,
		`status ==`,
		`(a == 1`,
		`a = 1`,
		`a & b`,
		`"unterminated`,
		`a == 1 b`,
		`os.Exit(1)`,
		`a.`,
	} {
		_, err := Compile(src)
		require.Error(t, err, src)
	}
}

func TestOrderingMismatchedTypes(t *testing.T) {
	e := MustCompile(`name > 3`)
	_, err := e.Eval(map[string]interface{}{"name": "x"})
	require.Error(t, err)
}

func TestShortCircuit(t *testing.T) {
	// The right side would fail to order a string against a number.
	e := MustCompile(`false && name > 3`)
	ok, err := e.EvalBool(map[string]interface{}{"name": "x"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache(t *testing.T) {
	c := NewCache()

	first, err := c.Get(`a == 1`)
	require.NoError(t, err)
	second, err := c.Get(`a == 1`)
	require.NoError(t, err)
	require.Same(t, first, second)

	ok, err := c.EvalBool(`a == 1`, map[string]interface{}{"a": int64(1)})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.EvalBool(`a ==`, nil)
	require.Error(t, err)
}
