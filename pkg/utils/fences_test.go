package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare content", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"yaml fence", "```yaml\nname: test\n```", "name: test"},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"empty fence", "``````", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFences(tc.input))
		})
	}
}

func TestParseJSONWithFence(t *testing.T) {
	var result struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	}

	input := "```json\n{\"name\": \"Research Pipeline\", \"confidence\": 0.92}\n```"
	require.NoError(t, ParseJSON(input, &result))
	assert.Equal(t, "Research Pipeline", result.Name)
	assert.Equal(t, 0.92, result.Confidence)

	assert.Error(t, ParseJSON("```json\nnot json\n```", &result))
}

func TestParseYAMLWithFence(t *testing.T) {
	var result struct {
		Name  string   `yaml:"name"`
		Steps []string `yaml:"steps"`
	}

	input := "```yaml\nname: test\nsteps:\n  - fetch\n  - summarize\n```"
	require.NoError(t, ParseYAML(input, &result))
	assert.Equal(t, "test", result.Name)
	assert.Equal(t, []string{"fetch", "summarize"}, result.Steps)
}
