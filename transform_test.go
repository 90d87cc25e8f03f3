package mjolnir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWayTransformResidential(t *testing.T) {
	transform := NewDefaultTransform()
	out, err := transform.Transform(true, map[string]string{
		"highway": "residential",
		"name":    "Oak Street",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	assert.Equal(t, "5", out["road_class"])
	assert.Equal(t, "true", out["auto_forward"])
	assert.Equal(t, "true", out["auto_backward"])
	assert.Equal(t, "true", out["pedestrian"])
	assert.Equal(t, "false", out["oneway"])
	assert.Equal(t, "Oak Street", out["name"])
	assert.Equal(t, "35.0", out["default_speed"])
	_, tagged := out["speed"]
	assert.False(t, tagged, "untagged way must not carry a tagged speed")
}

func TestWayTransformOneway(t *testing.T) {
	transform := NewDefaultTransform()

	out, err := transform.Transform(true, map[string]string{
		"highway": "primary",
		"oneway":  "yes",
	})
	require.NoError(t, err)
	assert.Equal(t, "true", out["oneway"])
	assert.Equal(t, "true", out["auto_forward"])
	assert.Equal(t, "false", out["auto_backward"])

	// A reversed one-way permits travel against digitisation only
	out, err = transform.Transform(true, map[string]string{
		"highway": "primary",
		"oneway":  "-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "false", out["auto_forward"])
	assert.Equal(t, "true", out["auto_backward"])

	// Roundabouts are one-way without an explicit tag
	out, err = transform.Transform(true, map[string]string{
		"highway":  "primary",
		"junction": "roundabout",
	})
	require.NoError(t, err)
	assert.Equal(t, "true", out["oneway"])
	assert.Equal(t, "true", out["roundabout"])
}

func TestWayTransformSpeed(t *testing.T) {
	transform := NewDefaultTransform()

	out, err := transform.Transform(true, map[string]string{
		"highway":  "motorway",
		"maxspeed": "100",
	})
	require.NoError(t, err)
	assert.Equal(t, "100.0", out["speed"])

	out, err = transform.Transform(true, map[string]string{
		"highway":  "motorway",
		"maxspeed": "60 mph",
	})
	require.NoError(t, err)
	assert.Equal(t, "96.6", out["speed"])
}

func TestWayTransformDropsNegligible(t *testing.T) {
	transform := NewDefaultTransform()

	for _, tags := range []map[string]string{
		{"highway": "proposed"},
		{"highway": "construction"},
		{"building": "yes"},
		{"highway": "residential", "area": "yes"},
	} {
		out, err := transform.Transform(true, tags)
		require.NoError(t, err)
		assert.Empty(t, out, "tags %v must be dropped", tags)
	}
}

func TestWayTransformLinkAndTruck(t *testing.T) {
	transform := NewDefaultTransform()
	out, err := transform.Transform(true, map[string]string{
		"highway":      "motorway_link",
		"maxspeed:hgv": "80",
		"hazmat":       "no",
		"maxheight":    "3.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "true", out["link"])
	assert.Equal(t, "0", out["road_class"])
	assert.Equal(t, "80.0", out["truck_speed"])
	assert.Equal(t, "true", out["hazmat"])
	assert.Equal(t, "3.5", out["maxheight"])
}

func TestNodeTransform(t *testing.T) {
	transform := NewDefaultTransform()

	out, err := transform.Transform(false, map[string]string{"barrier": "bollard"})
	require.NoError(t, err)
	assert.Equal(t, "true", out["bollard"])
	assert.Equal(t, "6", out["modes_mask"], "a bollard passes pedestrians and bicycles only")

	out, err = transform.Transform(false, map[string]string{"highway": "traffic_signals"})
	require.NoError(t, err)
	assert.Equal(t, "true", out["traffic_signal"])

	// Plain shape nodes keep full access so way geometry survives
	out, err = transform.Transform(false, map[string]string{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, "127", out["modes_mask"])
}
