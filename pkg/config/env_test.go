package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvVars(t *testing.T) {
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.Setenv("CONFIG_TEST_VAR", "value"))
	defer os.Unsetenv("CONFIG_TEST_VAR")

	assert.Equal(t, "value", expandEnvVars("$CONFIG_TEST_VAR"))
	assert.Equal(t, "value", expandEnvVars("${CONFIG_TEST_VAR}"))
	assert.Equal(t, "value", expandEnvVars("${CONFIG_TEST_VAR:-fallback}"))
	assert.Equal(t, "fallback", expandEnvVars("${CONFIG_TEST_MISSING:-fallback}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 3.5, parseValue("3.5"))
	assert.Equal(t, "hello", parseValue("hello"))
}

func TestExpandEnvVarsInData_Nested(t *testing.T) {
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.Setenv("CONFIG_TEST_NESTED", "5"))
	defer os.Unsetenv("CONFIG_TEST_NESTED")

	in := map[string]interface{}{
		"top": "${CONFIG_TEST_NESTED}",
		"list": []interface{}{
			"$CONFIG_TEST_NESTED",
			map[string]interface{}{"inner": "plain"},
		},
	}

	out := expandEnvVarsInData(in).(map[string]interface{})
	assert.Equal(t, 5, out["top"])

	list := out["list"].([]interface{})
	assert.Equal(t, 5, list[0])
	inner := list[1].(map[string]interface{})
	assert.Equal(t, "plain", inner["inner"])
}
