package persona

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRaw_RejectsMissingRequiredFields(t *testing.T) {
	err := ValidateRaw([]byte(`{"name": "no-version-no-authority"}`))
	require.Error(t, err)
}

func TestValidateRaw_RejectsBadAutonomyEnum(t *testing.T) {
	err := ValidateRaw([]byte(`{
		"schema_version": "1.0.0",
		"name": "x",
		"authority": {"autonomy": "godmode", "actions": {}}
	}`))
	require.Error(t, err)
}

func TestValidateRaw_AcceptsMinimalValidDocument(t *testing.T) {
	err := ValidateRaw([]byte(`{
		"schema_version": "1.0.0",
		"name": "x",
		"authority": {"autonomy": "readonly", "actions": {}}
	}`))
	require.NoError(t, err)
}
