package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const miniCatalog = `
version: "test-1"
entities:
  - name: brightness
    kind: value
    synonyms: [brightness]
    ranges:
      value: {min: 0, max: 100}
  - name: show_nerve
    kind: switch
    synonyms: [nerve, nerve overlay]
intents:
  control_on:
    triggers: [turn on]
`

func TestLoadDefault(t *testing.T) {
	snap, err := catalog.LoadDefault()
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Version)

	implants, ok := snap.Entity("implants")
	require.True(t, ok)
	assert.True(t, implants.Sized())
	assert.Equal(t, models.Range{Min: 3.0, Max: 4.8}, implants.Ranges[models.AxisHeight])
	assert.Equal(t, models.Range{Min: 6.0, Max: 17.0}, implants.Ranges[models.AxisLength])

	brightness, ok := snap.Entity("brightness")
	require.True(t, ok)
	r, ok := brightness.ValueRange()
	require.True(t, ok)
	assert.Equal(t, 100.0, r.Max)

	assert.NotEmpty(t, snap.Triggers())
}

func TestLookupSynonyms(t *testing.T) {
	snap, err := catalog.LoadDefault()
	require.NoError(t, err)

	cases := map[string]string{
		"X-Ray Flashlight": "xray_flashlight",
		"xray flashlight":  "xray_flashlight",
		"sinuses":          "show_sinus",
		"Nerve overlay":    "show_nerve",
		"skull":            "skull_model",
		"x-ray":            "xray_display",
		"implant tray":     "implants",
	}
	for surface, want := range cases {
		e, ok := snap.Lookup(surface)
		if assert.True(t, ok, surface) {
			assert.Equal(t, want, e.Name, surface)
		}
	}

	_, ok := snap.Lookup("spaceship")
	assert.False(t, ok)
}

func TestSurfaceFormsLongestFirst(t *testing.T) {
	snap, err := catalog.LoadDefault()
	require.NoError(t, err)
	forms := snap.SurfaceForms()
	for i := 1; i < len(forms); i++ {
		assert.GreaterOrEqual(t, len(forms[i-1].Tokens), len(forms[i].Tokens))
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	bad := strings.Replace(miniCatalog, "kind: switch", "kind: lamp", 1)
	_, err := catalog.Load(strings.NewReader(bad))
	var verr *catalog.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.NotEmpty(t, verr.Problems)
}

func TestLoadRejectsSharedSynonym(t *testing.T) {
	bad := strings.Replace(miniCatalog, "synonyms: [nerve, nerve overlay]", "synonyms: [nerve, brightness]", 1)
	_, err := catalog.Load(strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "names both")
}

func TestLoadRejectsInvertedRange(t *testing.T) {
	bad := strings.Replace(miniCatalog, "{min: 0, max: 100}", "{min: 100, max: 0}", 1)
	_, err := catalog.Load(strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min > max")
}

func TestLoadRejectsValueWithoutRange(t *testing.T) {
	bad := strings.Replace(miniCatalog, "    ranges:\n      value: {min: 0, max: 100}\n", "", 1)
	_, err := catalog.Load(strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without value range")
}

func TestProviderWithoutSnapshot(t *testing.T) {
	p := catalog.NewProvider(nil, "")
	_, err := p.Snapshot()
	assert.ErrorIs(t, err, catalog.ErrNoSnapshot)

	var nilProvider *catalog.Provider
	_, err = nilProvider.Snapshot()
	assert.ErrorIs(t, err, catalog.ErrNoSnapshot)
}

func TestProviderReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(miniCatalog), 0o644))

	snap, err := catalog.LoadFile(path)
	require.NoError(t, err)
	p := catalog.NewProvider(snap, path)

	require.NoError(t, os.WriteFile(path, []byte("entities: ["), 0o644))
	_, err = p.Reload()
	require.Error(t, err)

	cur, err := p.Snapshot()
	require.NoError(t, err)
	assert.Same(t, snap, cur)
}

func TestWatcherSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(miniCatalog), 0o644))

	snap, err := catalog.LoadFile(path)
	require.NoError(t, err)
	p := catalog.NewProvider(snap, path)

	w, err := catalog.NewWatcher(p)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	updated := strings.Replace(miniCatalog, `version: "test-1"`, `version: "test-2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		cur, err := p.Snapshot()
		return err == nil && cur.Version == "test-2"
	}, 5*time.Second, 50*time.Millisecond)
}
