package integrationtests

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/audiogrid/internal/controller"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/snapshotstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const chainHCL = `
graph "Chain" {
  node "1" {
    type   = "oscillator"
    name   = "Osc"
    params = { frequency = 220, amplitude = 0.25 }
  }
  node "2" {
    type   = "gain"
    name   = "Level"
    params = { channels = 1, gain_db = -6 }
  }
  node "3" {
    type = "audio.output"
    name = "Speakers"
  }

  arc {
    source_node = 1
    source_port = 2
    dest_node   = 2
    dest_port   = 0
  }
  arc {
    source_node = 2
    source_port = 1
    dest_node   = 3
    dest_port   = 0
  }
  arc {
    source_node = 2
    source_port = 1
    dest_node   = 3
    dest_port   = 1
  }
}
`

func TestGraph_RendersAndSavesLastGraph(t *testing.T) {
	t.Parallel()

	result := RunIntegrationTest(t, map[string]string{"main.hcl": chainHCL}, Options{})
	require.NoError(t, result.Err)
	AssertGraphLoaded(t, result, 3, 3)

	st := result.App.Status(context.Background())
	assert.Positive(t, st.Engine.Blocks)
	assert.Zero(t, st.Engine.Faults)
	assert.Empty(t, st.Nodes, "the graph is torn down on exit")

	store, err := snapshotstore.Open(result.SnapshotPath)
	require.NoError(t, err)
	defer store.Close()

	saved, snap, err := store.Latest(context.Background(), "last")
	require.NoError(t, err)
	assert.Equal(t, "Chain", saved.Name)
	assert.Positive(t, snap.Size)

	want := []document.Node{
		{ID: 1, Type: "oscillator", Name: "Osc", Enabled: true},
		{ID: 2, Type: "gain", Name: "Level", Enabled: true},
		{ID: 3, Type: "audio.output", Name: "Speakers", Enabled: true},
	}
	if diff := cmp.Diff(want, saved.Nodes, cmpopts.IgnoreFields(document.Node{}, "Params", "State", "Ports")); diff != "" {
		t.Errorf("saved nodes mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, saved.Arcs, 3)

	level, ok := saved.Node(2)
	require.True(t, ok)
	assert.True(t, level.Params.GetAttr("gain_db").Equals(cty.NumberIntVal(-6)).True())
	assert.JSONEq(t, `{"gain_db":-6}`, string(level.State))
}

func TestGraph_InvalidDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hcl     string
		wantErr error
		wantMsg string
	}{
		{
			name: "feedback loop",
			hcl: `graph "Loop" {
  node "1" {
    type   = "gain"
    params = { channels = 1 }
  }
  arc {
    source_node = 1
    source_port = 1
    dest_node   = 1
    dest_port   = 0
  }
}`,
			wantErr: controller.ErrInvalidGraphDocument,
			wantMsg: "cycle",
		},
		{
			name: "unknown node type",
			hcl: `graph "Unknown" {
  node "1" { type = "reverb" }
}`,
			wantErr: controller.ErrInvalidGraphDocument,
			wantMsg: "reverb",
		},
		{
			name:    "wrong root block",
			hcl:     `patch "Wrong" {}`,
			wantMsg: "graph",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := RunIntegrationTest(t, map[string]string{"main.hcl": tc.hcl}, Options{})
			require.Error(t, result.Err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, result.Err, tc.wantErr)
			}
			assert.Contains(t, result.Err.Error(), tc.wantMsg)
			assert.NotContains(t, result.LogOutput, "Snapshot saved.")
		})
	}
}

func TestGraph_UnconnectedNodesRender(t *testing.T) {
	t.Parallel()

	hcl := `graph "Monitor" {
  node "1" { type = "midi.monitor" }
  node "2" { type = "oscillator" }
}`
	result := RunIntegrationTest(t, map[string]string{"monitor.hcl": hcl}, Options{})
	require.NoError(t, result.Err)
	AssertGraphLoaded(t, result, 2, 0)
	assert.Positive(t, result.App.Status(context.Background()).Engine.Blocks)
}
