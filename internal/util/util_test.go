package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transferArgs struct {
	To     string  `json:"to" description:"Recipient"`
	Amount float64 `json:"amount"`
	Memo   *string `json:"memo"`
	Speed  string  `json:"speed,omitempty" enum:"slow,fast"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(transferArgs{})
	props := schema["properties"].(map[string]any)

	assert.Contains(t, props, "to")
	assert.Equal(t, "number", props["amount"].(map[string]any)["type"])
	assert.ElementsMatch(t, []string{"to", "amount"}, RequiredFields(schema))
	assert.Equal(t, []any{"slow", "fast"}, props["speed"].(map[string]any)["enum"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(transferArgs{})

	assert.NoError(t, ValidateParameters(map[string]any{"to": "alice.eth", "amount": 5.0}, schema))

	err := ValidateParameters(map[string]any{"to": "alice.eth"}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "amount", vErr.Field)

	err = ValidateParameters(map[string]any{"to": 1, "amount": 5.0}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type string")

	err = ValidateParameters(map[string]any{"to": "a", "amount": 1.0, "speed": "warp"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "speed", vErr.Field)
}

func TestValidateParameters_JSONDecodedRequired(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "integer"}},
		"required":   []any{"x"},
	}
	assert.NoError(t, ValidateParameters(map[string]any{"x": 5.0}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"x": 5.5}, schema))
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`{{ upper .network }} tx {{ .tx_hash }} <{{ default "n/a" .url }}>`, map[string]any{
		"network": "sepolia",
		"tx_hash": "0x1",
	})
	require.NoError(t, err)
	assert.Equal(t, "SEPOLIA tx 0x1 <n/a>", out)

	_, err = RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)
}
