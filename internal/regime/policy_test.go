package regime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_BaseTableLookup(t *testing.T) {
	base := DefaultPolicyTable()
	key, policy, ok := Resolve(base, nil, "bull", "risk_on", "trending_up")
	require.True(t, ok)
	assert.Equal(t, "bull|risk_on|trending_up", key)
	assert.Equal(t, 1.0, policy.SizeMult)
}

func TestResolve_UnknownKeyIsNotOK(t *testing.T) {
	base := DefaultPolicyTable()
	_, _, ok := Resolve(base, nil, "nope", "nope", "nope")
	assert.False(t, ok)
}

func TestResolve_OverlayWinsOverBase(t *testing.T) {
	base := DefaultPolicyTable()
	overlay := PolicyTable{"bull|risk_on|trending_up": {SizeMult: 0.1, StopMult: 2.0}}
	_, policy, ok := Resolve(base, overlay, "bull", "risk_on", "trending_up")
	require.True(t, ok)
	assert.Equal(t, 0.1, policy.SizeMult)
}

func TestLoadOverlay_EmptyPathReturnsNil(t *testing.T) {
	overlay, err := LoadOverlay("")
	require.NoError(t, err)
	assert.Nil(t, overlay)
}

func TestLoadOverlay_MissingFileReturnsNilNoError(t *testing.T) {
	overlay, err := LoadOverlay(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Nil(t, overlay)
}

func TestLoadOverlay_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	content := `
bull|risk_on|trending_up:
  size_mult: 0.2
  stop_mult: 1.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	overlay, err := LoadOverlay(path)
	require.NoError(t, err)
	require.Contains(t, overlay, "bull|risk_on|trending_up")
	assert.Equal(t, 0.2, overlay["bull|risk_on|trending_up"].SizeMult)
}

func TestFeatureTier(t *testing.T) {
	assert.Equal(t, "full", FeatureTier(map[Layer]bool{LayerL0: true, LayerL1: true, LayerL2: true}))
	assert.Equal(t, "partial", FeatureTier(map[Layer]bool{LayerL1: true, LayerL2: true}))
	assert.Equal(t, "minimal", FeatureTier(map[Layer]bool{LayerL2: true}))
	assert.Equal(t, "degraded", FeatureTier(map[Layer]bool{}))
}

func TestIsTightening(t *testing.T) {
	from := Policy{SizeMult: 1.0, StopMult: 1.0}
	tighterSize := Policy{SizeMult: 0.5, StopMult: 1.0}
	tighterStop := Policy{SizeMult: 1.0, StopMult: 1.5}
	looser := Policy{SizeMult: 1.5, StopMult: 0.5}

	assert.True(t, IsTightening(from, tighterSize))
	assert.True(t, IsTightening(from, tighterStop))
	assert.False(t, IsTightening(from, looser))
}

func TestResolveStrictest_CombinesMultipleLayers(t *testing.T) {
	a := Policy{SizeMult: 1.0, StopMult: 1.0, GrossCap: 1.0, Pyramids: 2, Orders: []string{"market", "limit"}, Setups: []string{"breakout", "pullback"}}
	b := Policy{SizeMult: 0.5, StopMult: 1.5, GrossCap: 0.8, Pyramids: 1, Orders: []string{"limit", "stop"}, Setups: []string{"pullback"}}

	out := ResolveStrictest(a, b)
	assert.Equal(t, 0.5, out.SizeMult)
	assert.Equal(t, 1.5, out.StopMult)
	assert.Equal(t, 0.8, out.GrossCap)
	assert.Equal(t, 1, out.Pyramids)
	assert.Equal(t, []string{"limit"}, out.Orders)
	assert.Equal(t, []string{"pullback"}, out.Setups)
}

func TestResolveStrictest_EmptyReturnsZeroValue(t *testing.T) {
	assert.Equal(t, Policy{}, ResolveStrictest())
}
