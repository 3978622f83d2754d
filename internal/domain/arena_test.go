package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDecision_EmptyTradesEncodeAsArray(t *testing.T) {
	d := NewDecision(nil, "hold", Metadata{RepoURL: "", CommitSHA: "local"})

	data, err := json.Marshal(d)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"schema_version": 1,
		"decision": {"trades": []},
		"reasoning": "hold",
		"metadata": {"repo_url": "", "commit_sha": "local"}
	}`, string(data))
}

func TestNewDecision_WorkflowRunURLIncludedWhenSet(t *testing.T) {
	d := NewDecision([]Trade{{From: "USD", To: "TAO", Amount: 10}}, "buy", Metadata{
		RepoURL:        "https://github.com/a/b",
		CommitSHA:      "abc",
		WorkflowRunURL: "https://github.com/a/b/actions/runs/1",
	})

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"workflow_run_url":"https://github.com/a/b/actions/runs/1"`)
	assert.Len(t, d.Trades(), 1)
}

func TestPortfolio_ValidateRejectsDuplicates(t *testing.T) {
	p := Portfolio{Balances: []Balance{{Asset: "USD", Amount: 1}, {Asset: "USD", Amount: 2}}}
	assert.Error(t, p.Validate())

	p = Portfolio{Balances: []Balance{{Asset: "USD", Amount: 1}, {Asset: "TAO", Amount: 2}}}
	assert.NoError(t, p.Validate())
}

func TestAssetInfo_SubnetIDNull(t *testing.T) {
	var assets []AssetInfo
	err := json.Unmarshal([]byte(`[{"asset_id":"TAO","name":"Tao","subnet_id":null},{"asset_id":"ALPHA_7","name":"Seven","subnet_id":7}]`), &assets)
	require.NoError(t, err)

	assert.False(t, assets[0].IsSubnetToken())
	require.True(t, assets[1].IsSubnetToken())
	assert.Equal(t, 7, *assets[1].SubnetID)
}

func TestValidationResult_Blocking(t *testing.T) {
	assert.False(t, (&ValidationResult{Valid: true, Warnings: []string{"low liquidity"}}).Blocking())
	assert.True(t, (&ValidationResult{Valid: false}).Blocking())
	assert.True(t, (&ValidationResult{Valid: true, Errors: []string{"x"}}).Blocking())
}

func TestErrors_AsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cycle: %w", &CompatibilityError{Expected: 1, Got: 2})

	var compat *CompatibilityError
	require.True(t, errors.As(err, &compat))
	assert.Equal(t, 2, compat.Got)
	assert.Contains(t, err.Error(), "expected 1, got 2")

	transport := &TransportError{Method: "GET", Path: "/v1/game/clock", StatusCode: 503, Body: "down"}
	assert.Equal(t, "API GET /v1/game/clock failed (503): down", transport.Error())
}
