package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/models"
)

func TestValidateModelTiers(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[string]*models.ModelSpec
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid tier",
			specs: map[string]*models.ModelSpec{
				"gpt-local": {Tier: models.TierLocal},
			},
			wantErr: false,
		},
		{
			name: "unknown tier",
			specs: map[string]*models.ModelSpec{
				"gpt-mystery": {Tier: "bogus"},
			},
			wantErr: true,
			errMsg:  "unknown tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateModelTiers(NewModelRegistry(tt.specs, nil))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAgentModelRefs(t *testing.T) {
	models_ := NewModelRegistry(map[string]*models.ModelSpec{
		"gpt-local": {Tier: models.TierLocal},
	}, nil)

	tests := []struct {
		name    string
		agents  map[string]*models.Agent
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid primary and fallback",
			agents: map[string]*models.Agent{
				"triage": {PrimaryModel: "gpt-local", FallbackModels: []string{"gpt-local"}},
			},
			wantErr: false,
		},
		{
			name: "unknown primary model",
			agents: map[string]*models.Agent{
				"triage": {PrimaryModel: "nonexistent"},
			},
			wantErr: true,
			errMsg:  "references unknown model",
		},
		{
			name: "unknown fallback model",
			agents: map[string]*models.Agent{
				"triage": {PrimaryModel: "gpt-local", FallbackModels: []string{"nonexistent"}},
			},
			wantErr: true,
			errMsg:  "references unknown model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAgentModelRefs(NewAgentRegistry(tt.agents), models_)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNoParentCycles(t *testing.T) {
	tests := []struct {
		name    string
		agents  map[string]*models.Agent
		wantErr bool
	}{
		{
			name: "no parents",
			agents: map[string]*models.Agent{
				"a": {ID: "a"},
				"b": {ID: "b"},
			},
			wantErr: false,
		},
		{
			name: "valid chain",
			agents: map[string]*models.Agent{
				"child":  {ID: "child", ParentAgentID: "parent"},
				"parent": {ID: "parent"},
			},
			wantErr: false,
		},
		{
			name: "dangling parent ref is not a cycle",
			agents: map[string]*models.Agent{
				"child": {ID: "child", ParentAgentID: "nonexistent"},
			},
			wantErr: false,
		},
		{
			name: "direct cycle",
			agents: map[string]*models.Agent{
				"a": {ID: "a", ParentAgentID: "b"},
				"b": {ID: "b", ParentAgentID: "a"},
			},
			wantErr: true,
		},
		{
			name: "self cycle",
			agents: map[string]*models.Agent{
				"a": {ID: "a", ParentAgentID: "a"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNoParentCycles(NewAgentRegistry(tt.agents))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "cycle detected")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRecovery(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RecoveryConfig
		wantErr bool
	}{
		{name: "both empty", cfg: RecoveryConfig{}, wantErr: false},
		{name: "both set", cfg: RecoveryConfig{SlackToken: "xoxb-test", SlackChannel: "C123"}, wantErr: false},
		{name: "token without channel", cfg: RecoveryConfig{SlackToken: "xoxb-test"}, wantErr: true},
		{name: "channel without token", cfg: RecoveryConfig{SlackChannel: "C123"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRecovery(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "must be set together")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *", wantErr: false},
		{name: "nightly", expr: "0 2 * * *", wantErr: false},
		{name: "too few fields", expr: "* * *", wantErr: true},
		{name: "garbage", expr: "not a cron expr", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronExpression(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cat := &Catalog{
		Agents: NewAgentRegistry(map[string]*models.Agent{
			"triage": {ID: "triage", PrimaryModel: "gpt-local"},
		}),
		Models: NewModelRegistry(map[string]*models.ModelSpec{
			"gpt-local": {Tier: models.TierLocal},
		}, nil),
		Recovery: RecoveryConfig{},
	}
	assert.NoError(t, validate(cat))

	cat.Recovery = RecoveryConfig{SlackToken: "xoxb-test"}
	err := validate(cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}
