package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibilityResultJSON(t *testing.T) {
	raw, err := json.Marshal(EligibilityResult{Pass: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pass":true,"msg":""}`, string(raw))

	raw, err = json.Marshal(EligibilityResult{Data: []Verdict{{Msg: "You are not logged in"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pass":false,"msg":"","data":[{"pass":false,"msg":"You are not logged in"}]}`, string(raw))
}
