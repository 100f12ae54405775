package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitQualifiedTool(t *testing.T) {
	servers := []string{"reader", "data_warehouse", "data"}

	tests := []struct {
		name       string
		qualified  string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{
			name:       "simple server",
			qualified:  "reader_read_file",
			wantServer: "reader",
			wantTool:   "read_file",
		},
		{
			name:       "longest prefix wins over shorter server",
			qualified:  "data_warehouse_query",
			wantServer: "data_warehouse",
			wantTool:   "query",
		},
		{
			name:       "shorter server still matches",
			qualified:  "data_fetch",
			wantServer: "data",
			wantTool:   "fetch",
		},
		{
			name:       "unknown server falls back to first underscore",
			qualified:  "mystery_tool",
			wantServer: "mystery",
			wantTool:   "tool",
		},
		{
			name:      "no underscore",
			qualified: "standalone",
			wantErr:   true,
		},
		{
			name:      "trailing underscore",
			qualified: "reader_",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := SplitQualifiedTool(tt.qualified, servers)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestQualifiedToolName(t *testing.T) {
	assert.Equal(t, "reader_read_file", QualifiedToolName("reader", "read_file"))
}
