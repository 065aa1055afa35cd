package envx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"TRUE", true},
		{"True", true},
		{"True ", false},
		{"1", false},
		{"yes", false},
		{"false", false},
		{"", false},
		{"ture", false},
	}

	for _, tc := range tests {
		got, err := AsBool(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestAsInt(t *testing.T) {
	t.Parallel()

	got, err := AsInt("300")
	require.NoError(t, err)
	assert.Equal(t, 300, got)

	got, err = AsInt("-7")
	require.NoError(t, err)
	assert.Equal(t, -7, got)

	for _, bad := range []string{"", "3.5", "abc", "0x10"} {
		_, err := AsInt(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestAsList(t *testing.T) {
	t.Parallel()

	got, err := AsList("a  b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = AsList("")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)

	got, err = AsList(" peering.example.com  localhost ")
	require.NoError(t, err)
	assert.Equal(t, []string{"peering.example.com", "localhost"}, got)
}

func TestAsStruct(t *testing.T) {
	t.Parallel()

	got, err := AsStruct(`{"a": 1, "b": ["x"]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": []any{"x"}}, got)

	got, err = AsStruct(`[["John Doe", "jdoe@example.com"]]`)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"John Doe", "jdoe@example.com"}}, got)

	_, err = AsStruct(`{"a":`)
	assert.Error(t, err)
}

func TestAccessorGet(t *testing.T) {
	t.Parallel()

	acc := New(Map{
		"DB_CONN_MAX_AGE": "60",
		"EMPTY":           "",
		"BROKEN_INT":      "sixty",
		"ADMINS":          `[["a", "a@example.com"]]`,
	})

	t.Run("set value coerced", func(t *testing.T) {
		v, err := acc.Get(Var("DB_CONN_MAX_AGE").Or("300").As(AsInt))
		require.NoError(t, err)
		assert.Equal(t, 60, v)
	})

	t.Run("default flows through coercion", func(t *testing.T) {
		v, err := acc.Get(Var("UNSET").Or("300").As(AsInt))
		require.NoError(t, err)
		assert.Equal(t, 300, v)
	})

	t.Run("unset without default skips coercion", func(t *testing.T) {
		called := false
		v, err := acc.Get(Var("UNSET").As(func(string) (any, error) {
			called = true
			return nil, errors.New("must not run")
		}))
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.False(t, called)
	})

	t.Run("empty string is not absent", func(t *testing.T) {
		v, err := acc.Get(Var("EMPTY").Or("fallback").As(AsList))
		require.NoError(t, err)
		assert.Equal(t, []string{}, v)
	})

	t.Run("raw string without coercion", func(t *testing.T) {
		v, err := acc.Get(Var("EMPTY"))
		require.NoError(t, err)
		assert.Equal(t, "", v)
	})

	t.Run("malformed value is a parse error", func(t *testing.T) {
		_, err := acc.Get(Var("BROKEN_INT").As(AsInt))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrParse)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "BROKEN_INT", perr.Name)
		assert.Equal(t, "sixty", perr.Value)
	})

	t.Run("structured", func(t *testing.T) {
		v, err := acc.Struct("ADMINS", "[]")
		require.NoError(t, err)
		assert.Len(t, v, 1)
	})
}

func TestAccessorHelpers(t *testing.T) {
	t.Parallel()

	acc := New(Map{
		"DEBUG":         "True",
		"PORT":          "9000",
		"ALLOWED_HOSTS": "a b",
		"GRACE":         "250ms",
		"RPS":           "2.5",
	})

	assert.True(t, acc.Bool("DEBUG", "false"))
	assert.False(t, acc.Bool("UNSET", "false"))
	assert.Equal(t, "x", acc.String("UNSET", "x"))

	port, err := acc.Int("PORT", "8080")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	assert.Equal(t, []string{"a", "b"}, acc.List("ALLOWED_HOSTS", "*"))
	assert.Equal(t, []string{"*"}, acc.List("UNSET", "*"))

	grace, err := acc.Duration("GRACE", "10s")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, grace)

	rps, err := acc.Float("RPS", "25")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, rps, 0.0001)
}

func TestOSEnvironmentReflectsCurrentValues(t *testing.T) {
	acc := New(nil)

	t.Setenv("PEERCONF_TEST_VALUE", "one")
	assert.Equal(t, "one", acc.String("PEERCONF_TEST_VALUE", ""))

	t.Setenv("PEERCONF_TEST_VALUE", "two")
	assert.Equal(t, "two", acc.String("PEERCONF_TEST_VALUE", ""))
}

func TestFromEnviron(t *testing.T) {
	t.Parallel()

	m := FromEnviron([]string{"A=1", "B=x=y", "C=", "broken", "=nokey"})
	assert.Equal(t, Map{"A": "1", "B": "x=y", "C": ""}, m)
}

func TestCoercionByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"bool", "INT", "list", "struct", "json", "duration", "float"} {
		c, ok := CoercionByName(name)
		assert.True(t, ok, name)
		assert.NotNil(t, c, name)
	}

	c, ok := CoercionByName("str")
	assert.True(t, ok)
	assert.Nil(t, c)

	_, ok = CoercionByName("tuple")
	assert.False(t, ok)
}
