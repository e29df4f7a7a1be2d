package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name        string
		flags       []string
		fallback    string
		wantDefault string
		wantPkgs    map[string]string
		wantErr     bool
	}{
		{name: "config fallback", fallback: "warn", wantDefault: "warn", wantPkgs: map[string]string{}},
		{name: "empty fallback", wantDefault: "info", wantPkgs: map[string]string{}},
		{name: "plain level wins", flags: []string{"debug"}, fallback: "warn", wantDefault: "debug", wantPkgs: map[string]string{}},
		{name: "default key", flags: []string{"default=error"}, wantDefault: "error", wantPkgs: map[string]string{}},
		{
			name:        "per package",
			flags:       []string{"info", "engine=debug", "tools.*=warn"},
			wantDefault: "info",
			wantPkgs:    map[string]string{"engine": "debug", "tools.*": "warn"},
		},
		{name: "bad default", flags: []string{"loud"}, wantErr: true},
		{name: "bad package level", flags: []string{"engine=loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, pkgs, err := parseLogLevelFlags(tt.flags, tt.fallback)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, def)
			assert.Equal(t, tt.wantPkgs, pkgs)
		})
	}
}

func TestParseLogLevelFlags_Env(t *testing.T) {
	t.Setenv("LOG_LEVEL_TOOLS_REGISTRY", "debug")
	t.Setenv("LOG_LEVEL_ENGINE", "warn")

	_, pkgs, err := parseLogLevelFlags([]string{"engine=error"}, "info")
	require.NoError(t, err)
	assert.Equal(t, "debug", pkgs["tools.registry"])
	assert.Equal(t, "error", pkgs["engine"], "CLI flag overrides env")
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "scenario.watcher", convertEnvKeyToPackageName("LOG_LEVEL_SCENARIO_WATCHER"))
}
