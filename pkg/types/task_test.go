// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func TestWithDefaultsFillsOnlyUnsetLimits(t *testing.T) {
	var unset TaskConfig
	require.NoError(t, json.Unmarshal([]byte(`{"query":"q"}`), &unset))
	got := unset.WithDefaults()
	assert.Equal(t, StyleDetailed, got.ReportStyle)
	assert.Equal(t, 5, got.SectionLimit())
	assert.Equal(t, 2, got.RevisionLimit())

	var zero TaskConfig
	require.NoError(t, json.Unmarshal([]byte(`{"query":"q","max_revisions":0}`), &zero))
	assert.Equal(t, 0, zero.WithDefaults().RevisionLimit())

	var fromYAML TaskConfig
	require.NoError(t, yaml.Unmarshal([]byte("query: q\nmax_revisions: 0\nmax_sections: 3\n"), &fromYAML))
	assert.Equal(t, 0, fromYAML.WithDefaults().RevisionLimit())
	assert.Equal(t, 3, fromYAML.WithDefaults().SectionLimit())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  TaskConfig
		want string
	}{
		{"defaults", TaskConfig{Query: "q"}, ""},
		{"no revisions", TaskConfig{Query: "q", MaxRevisions: Int(0)}, ""},
		{"unknown style", TaskConfig{ReportStyle: "memo"}, `unknown report style "memo"`},
		{"zero sections", TaskConfig{MaxSections: Int(0)}, "max_sections must be at least 1"},
		{"negative revisions", TaskConfig{MaxRevisions: Int(-1)}, "max_revisions must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
