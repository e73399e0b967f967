package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(name, version string, deps ...Dependency) *Manifest {
	return &Manifest{Name: name, Version: version, ExtDependencies: deps}
}

func TestResolveOptionalAndRequiredDependencies(t *testing.T) {
	// E2 depends on E1 optionally, E3 requires E1.
	e1 := manifest("e1", "1.0.0")
	e2 := manifest("e2", "1.0.0", Dependency{Name: "e1", Optional: true})
	e3 := manifest("e3", "1.0.0", Dependency{Name: "e1"})

	res, err := Resolve(map[string]*Manifest{"e1": e1, "e2": e2, "e3": e3})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, res.Order)
	assert.Empty(t, res.Unloadable)

	// Without E1: E3 is unloadable, E2 still loads.
	res, err = Resolve(map[string]*Manifest{"e2": e2, "e3": e3})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, res.Order)
	assert.Contains(t, res.Unloadable, "e3")
}

func TestResolveVersionConstraints(t *testing.T) {
	base := manifest("base", "1.2.0")
	needsNew := manifest("needs-new", "1.0.0", Dependency{Name: "base", Constraint: "2.0.0"})
	needsOld := manifest("needs-old", "1.0.0", Dependency{Name: "base", Constraint: "1.0.0"})
	optsNew := manifest("opts-new", "1.0.0", Dependency{Name: "base", Optional: true, Constraint: "2.0.0"})

	res, err := Resolve(map[string]*Manifest{
		"base": base, "needs-new": needsNew, "needs-old": needsOld, "opts-new": optsNew,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Unloadable, "needs-new")
	assert.Contains(t, res.Order, "needs-old")
	assert.Contains(t, res.Order, "opts-new", "unsatisfied optional edges are dropped, not fatal")
}

func TestUnsatisfiedOptionalEdgeDoesNotOrder(t *testing.T) {
	// a requires b; b optionally wants a >= 2.0.0, which a does not meet.
	// The optional edge must be dropped entirely, not turned into a cycle.
	a := manifest("a", "1.0.0", Dependency{Name: "b"})
	b := manifest("b", "1.0.0", Dependency{Name: "a", Optional: true, Constraint: "2.0.0"})

	res, err := Resolve(map[string]*Manifest{"a": a, "b": b})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, res.Order)
	assert.Empty(t, res.Unloadable)
}

func TestResolveCascadesUnloadable(t *testing.T) {
	// b requires missing dep; c requires b: both fall out.
	b := manifest("b", "1.0.0", Dependency{Name: "missing"})
	c := manifest("c", "1.0.0", Dependency{Name: "b"})

	res, err := Resolve(map[string]*Manifest{"b": b, "c": c})
	require.NoError(t, err)
	assert.Empty(t, res.Order)
	assert.Contains(t, res.Unloadable, "b")
	assert.Contains(t, res.Unloadable, "c")
}

func TestResolveDeterministicOrder(t *testing.T) {
	manifests := map[string]*Manifest{
		"zeta":  manifest("zeta", "1.0.0"),
		"alpha": manifest("alpha", "1.0.0"),
		"mid":   manifest("mid", "1.0.0", Dependency{Name: "alpha"}),
	}
	first, err := Resolve(manifests)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Resolve(manifests)
		require.NoError(t, err)
		assert.Equal(t, first.Order, again.Order, "resolution order is stable")
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, first.Order)
}

func TestResolveCycleAborts(t *testing.T) {
	a := manifest("a", "1.0.0", Dependency{Name: "b"})
	b := manifest("b", "1.0.0", Dependency{Name: "a"})

	_, err := Resolve(map[string]*Manifest{"a": a, "b": b})
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Cycle)
}

func TestManifestValidation(t *testing.T) {
	assert.Error(t, (&Manifest{Version: "1.0.0"}).Validate())
	assert.Error(t, (&Manifest{Name: "x", Version: "not-a-version"}).Validate())
	assert.NoError(t, (&Manifest{Name: "x", Version: "1.0.0"}).Validate())
	assert.NoError(t, (&Manifest{Name: "x", Version: "v1.0.0"}).Validate())

	m := &Manifest{Name: "x", Version: "1.0.0", ExtDependencies: []Dependency{{Name: "y", Constraint: "??"}}}
	assert.Error(t, m.Validate())
}
