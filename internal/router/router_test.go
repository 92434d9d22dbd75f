package router_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/confidence"
	"github.com/scenepilot/scenepilot/internal/intent"
	"github.com/scenepilot/scenepilot/internal/rag"
	"github.com/scenepilot/scenepilot/internal/resolver"
	"github.com/scenepilot/scenepilot/internal/router"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubRetriever returns canned results, an error, or blocks until cancelled.
// With stuck set it ignores ctx and waits for stuck to close.
type stubRetriever struct {
	results []models.FusedResult
	err     error
	block   bool
	stuck   chan struct{}
}

func (s *stubRetriever) Retrieve(ctx context.Context, _ string, _ int) ([]models.FusedResult, error) {
	if s.stuck != nil {
		<-s.stuck
		return s.results, s.err
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.results, s.err
}

func newRouter(t *testing.T, cfg router.Config, ret router.Retriever) *router.Router {
	t.Helper()
	snap, err := catalog.LoadDefault()
	require.NoError(t, err)
	return router.New(cfg,
		catalog.NewProvider(snap, ""),
		intent.New(intent.DefaultConfig(), nil),
		resolver.New(resolver.DefaultConfig(), nil),
		confidence.New(confidence.DefaultConfig()),
		ret,
	)
}

func history(d *models.RoutingDecision, text string) []models.ConversationTurn {
	return []models.ConversationTurn{models.TurnFromDecision(text, d, time.Now())}
}

func TestTurnOnHandles(t *testing.T) {
	cfg := router.DefaultConfig()
	r := newRouter(t, cfg, &stubRetriever{})
	d := r.Resolve(context.Background(), "turn on handles", nil)

	assert.Equal(t, models.ActionTool, d.Action)
	assert.Equal(t, "handles", d.TargetName())
	require.NotNil(t, d.Value)
	assert.Equal(t, models.SwitchOn, d.Value.State)
	assert.GreaterOrEqual(t, d.Confidence, cfg.ActThreshold)
	assert.Empty(t, d.MissingSlots)
}

func TestSetBrightness(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "set brightness to 50", nil)

	assert.Equal(t, models.ActionTool, d.Action)
	assert.Equal(t, "brightness", d.TargetName())
	require.NotNil(t, d.Value)
	assert.Equal(t, models.ValueScalar, d.Value.Kind)
	assert.Equal(t, 50.0, d.Value.Number)
	assert.Equal(t, models.UnitAbsolute, d.Value.Unit)
}

func TestHideSinuses(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "hide sinuses", nil)

	assert.Equal(t, models.ActionTool, d.Action)
	assert.Equal(t, "show_sinus", d.TargetName())
	require.NotNil(t, d.Value)
	assert.Equal(t, models.SwitchOff, d.Value.State)
}

func TestRelativeAdjustments(t *testing.T) {
	cfg := router.DefaultConfig()
	r := newRouter(t, cfg, &stubRetriever{})

	cases := []struct {
		text   string
		target string
		delta  float64
	}{
		{"increase brightness by 10", "brightness", 10},
		{"decrease contrast by 5", "contrast", -5},
		{"increase brightness", "brightness", 10},
	}
	for _, tc := range cases {
		d := r.Resolve(context.Background(), tc.text, nil)
		assert.Equal(t, models.ActionTool, d.Action, tc.text)
		assert.Equal(t, tc.target, d.TargetName(), tc.text)
		require.NotNil(t, d.Value, tc.text)
		assert.Equal(t, models.UnitDelta, d.Value.Unit, tc.text)
		assert.Equal(t, tc.delta, d.Value.Number, tc.text)
		assert.GreaterOrEqual(t, d.Confidence, cfg.ActThreshold, tc.text)
	}

	d := r.Resolve(context.Background(), "increase brightness by 150", nil)
	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotValue}, d.MissingSlots)
}

func TestSwitchCommandOnNonSwitchTargetClarifies(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})

	cases := map[string]string{
		"turn on brightness": "brightness",
		"turn off the skull": "skull_model",
		"hide the menu":      "menu_bar",
	}
	for text, target := range cases {
		d := r.Resolve(context.Background(), text, nil)
		assert.Equal(t, models.ActionClarification, d.Action, text)
		assert.Equal(t, target, d.TargetName(), text)
		assert.Equal(t, []models.Slot{models.SlotValue}, d.MissingSlots, text)
		assert.Equal(t, 0.0, d.Confidence, text)
		require.NotNil(t, d.Clarification, text)
		assert.Equal(t, models.SlotValue, d.Clarification.Slot, text)
	}

	d := r.Resolve(context.Background(), "turn on brightness", nil)
	assert.Contains(t, d.Clarification.Question, "Brightness is not a switch")
	assert.Equal(t, map[string]models.Range{models.AxisValue: {Min: 0, Max: 100}}, d.Clarification.Ranges)
}

func TestConflictingCommandsAreNotActedOn(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "turn off nerve then show nerve", nil)

	assert.NotEqual(t, models.ActionTool, d.Action)
	assert.Equal(t, models.ActionRefusal, d.Action)
	assert.Equal(t, models.IntentNone, d.Intent)
}

func TestSizeRequestThenCarryover(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()

	first := r.Resolve(ctx, "give me implants", nil)
	assert.Equal(t, models.ActionSizeRequest, first.Action)
	assert.Equal(t, "implants", first.TargetName())
	assert.Equal(t, []models.Slot{models.SlotValue}, first.MissingSlots)
	require.NotNil(t, first.Clarification)
	assert.Contains(t, first.Clarification.Question, "3–4.8")
	assert.Contains(t, first.Clarification.Question, "6–17")
	assert.Equal(t, models.Range{Min: 3, Max: 4.8}, first.Clarification.Ranges[models.AxisHeight])

	second := r.Resolve(ctx, "4 x 11.5", history(first, "give me implants"))
	assert.Equal(t, models.ActionTool, second.Action)
	assert.Equal(t, "implants", second.TargetName())
	assert.True(t, second.CarriedOver)
	require.NotNil(t, second.Value)
	assert.Equal(t, 4.0, second.Value.Height)
	assert.Equal(t, 11.5, second.Value.Length)
	assert.GreaterOrEqual(t, second.Confidence, 0.7)

	swapped := r.Resolve(ctx, "11.5 by 4", history(first, "give me implants"))
	require.NotNil(t, swapped.Value)
	assert.Equal(t, 4.0, swapped.Value.Height)
	assert.Equal(t, 11.5, swapped.Value.Length)
}

func TestSizeRequestWithDimension(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "give me implant 4.2 x 12", nil)
	assert.Equal(t, models.ActionTool, d.Action)
	assert.Equal(t, "implants", d.TargetName())
	require.NotNil(t, d.Value)
	assert.Equal(t, "4.2 x 12", d.Value.String())
}

func TestCarryoverPartialDimensionAsksForMissingAxis(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()
	first := r.Resolve(ctx, "give me implants", nil)

	d := r.Resolve(ctx, "12", history(first, "give me implants"))
	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotValue}, d.MissingSlots)
	require.NotNil(t, d.Clarification)
	assert.Contains(t, d.Clarification.Question, "Missing height")
	assert.Equal(t, 0.0, d.Confidence)
}

func TestCarryoverControlValue(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()
	first := r.Resolve(ctx, "set the brightness", nil)
	assert.Equal(t, models.ActionClarification, first.Action)
	assert.Equal(t, []models.Slot{models.SlotValue}, first.MissingSlots)

	d := r.Resolve(ctx, "70%", history(first, "set the brightness"))
	assert.Equal(t, models.ActionTool, d.Action)
	assert.Equal(t, "brightness", d.TargetName())
	require.NotNil(t, d.Value)
	assert.Equal(t, 70.0, d.Value.Number)
}

func TestBareValueWithoutEligibleTurn(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()

	d := r.Resolve(ctx, "4 x 11.5", nil)
	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotEntity}, d.MissingSlots)
	require.NotNil(t, d.Clarification)
	assert.Contains(t, d.Clarification.Options, "implants")

	prev := r.Resolve(ctx, "turn on handles", nil)
	d = r.Resolve(ctx, "50", history(prev, "turn on handles"))
	assert.Equal(t, models.ActionClarification, d.Action)
	assert.False(t, d.CarriedOver)
}

// History is the only carrier of context: the same utterance with and
// without a session's history routes differently.
func TestCarryoverScopedToGivenHistory(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()
	sessionA := history(r.Resolve(ctx, "give me implants", nil), "give me implants")

	var wg sync.WaitGroup
	results := make([]*models.RoutingDecision, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var h []models.ConversationTurn
			if i%2 == 0 {
				h = sessionA
			}
			results[i] = r.Resolve(ctx, "4 x 11.5", h)
		}(i)
	}
	wg.Wait()

	for i, d := range results {
		if i%2 == 0 {
			assert.Equal(t, models.ActionTool, d.Action, "turn %d", i)
		} else {
			assert.Equal(t, models.ActionClarification, d.Action, "turn %d", i)
		}
	}
}

func TestOutOfRangeValue(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "set brightness to 150", nil)

	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotValue}, d.MissingSlots)
	assert.Equal(t, 0.0, d.Confidence)
	require.NotNil(t, d.Clarification)
	assert.Equal(t, models.SlotValue, d.Clarification.Slot)
	assert.Contains(t, d.Clarification.Question, "between 0–100")
	assert.Equal(t, models.Range{Min: 0, Max: 100}, d.Clarification.Ranges[models.AxisValue])
}

func TestMissingEntityClarification(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "turn on", nil)

	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotEntity}, d.MissingSlots)
	require.NotNil(t, d.Clarification)
	assert.Equal(t, "What should I turn on?", d.Clarification.Question)
	assert.Contains(t, d.Clarification.Options, "handles")
	assert.NotContains(t, d.Clarification.Options, "brightness")
}

func TestAmbiguousEntityClarification(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "turn on the nerve and the sinus", nil)

	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Nil(t, d.Target)
	assert.Contains(t, d.MissingSlots, models.SlotEntity)
	require.NotNil(t, d.Clarification)
	assert.Equal(t, []string{"nerve overlay", "sinus overlay"}, d.Clarification.Options)
	assert.Equal(t, "Did you mean nerve overlay or sinus overlay?", d.Clarification.Question)
}

func TestConfirmationBetweenThresholds(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.ActThreshold = 0.99
	r := newRouter(t, cfg, &stubRetriever{})
	d := r.Resolve(context.Background(), "turn on handles", nil)

	assert.Equal(t, models.ActionClarification, d.Action)
	assert.Equal(t, []models.Slot{models.SlotConfirmation}, d.MissingSlots)
	require.NotNil(t, d.Clarification)
	assert.Equal(t, "Did you mean: turn on handles?", d.Clarification.Question)
}

func TestDefinitionFromCatalog(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "what is the sinus overlay", nil)

	assert.Equal(t, models.ActionInfo, d.Action)
	assert.Equal(t, "show_sinus", d.TargetName())
	assert.Contains(t, d.Answer, "maxillary sinus")
	assert.Empty(t, d.Sources)
}

func TestLocationFromCatalog(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()

	d := r.Resolve(ctx, "where is the skull", nil)
	assert.Equal(t, models.ActionInfo, d.Action)
	assert.Equal(t, "The skull model is on the left.", d.Answer)

	d = r.Resolve(ctx, "where is the x-ray display", nil)
	assert.Equal(t, "The X-ray display is above the skull.", d.Answer)

	d = r.Resolve(ctx, "where are the implants", nil)
	assert.Equal(t, "The implants are on the right.", d.Answer)
}

func TestDefinitionFallsBackToRetrieval(t *testing.T) {
	hits := []models.FusedResult{{ChunkID: "c1", DocumentID: "menu-guide", Text: "The menu bar holds scene tools.", FusedScore: 0.8}}
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{results: hits})
	d := r.Resolve(context.Background(), "what is the menu bar", nil)

	assert.Equal(t, models.ActionInfo, d.Action)
	assert.Equal(t, models.IntentInfoDefinition, d.Intent)
	assert.Equal(t, hits, d.Sources)
	assert.Empty(t, d.Answer)
}

func TestOutOfDomainRefusal(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	d := r.Resolve(context.Background(), "what color is the sky", nil)

	assert.Equal(t, models.ActionRefusal, d.Action)
	assert.Empty(t, d.Sources)
	assert.Equal(t, "no relevant knowledge", d.Reason)
}

func TestUnrecognizedIntentRetrieves(t *testing.T) {
	hits := []models.FusedResult{{ChunkID: "c1", DocumentID: "guide", Text: "Osseointegration takes months.", FusedScore: 0.6}}
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{results: hits})
	d := r.Resolve(context.Background(), "how long does osseointegration take", nil)

	assert.Equal(t, models.ActionInfo, d.Action)
	assert.Equal(t, models.IntentNone, d.Intent)
	assert.Len(t, d.Sources, 1)
}

func TestRetrievalTimeoutRefuses(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.RetrievalTimeout = 20 * time.Millisecond
	r := newRouter(t, cfg, &stubRetriever{block: true})

	start := time.Now()
	d := r.Resolve(context.Background(), "how long does osseointegration take", nil)
	assert.Equal(t, models.ActionRefusal, d.Action)
	assert.Equal(t, "retrieval timed out", d.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrievalTimeoutWithIndexIgnoringContext(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.RetrievalTimeout = 20 * time.Millisecond
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })
	r := newRouter(t, cfg, &stubRetriever{stuck: stuck})

	start := time.Now()
	d := r.Resolve(context.Background(), "how long does osseointegration take", nil)
	assert.Equal(t, models.ActionRefusal, d.Action)
	assert.Equal(t, "retrieval timed out", d.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIndexFailureIsInfraError(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{err: fmt.Errorf("%w: connection refused", rag.ErrIndexUnavailable)})
	d := r.Resolve(context.Background(), "how long does osseointegration take", nil)
	assert.Equal(t, models.ActionInfraError, d.Action)
	assert.Contains(t, d.Reason, "connection refused")
}

func TestMissingCatalogIsInfraError(t *testing.T) {
	r := router.New(router.DefaultConfig(),
		catalog.NewProvider(nil, ""),
		intent.New(intent.DefaultConfig(), nil),
		resolver.New(resolver.DefaultConfig(), nil),
		confidence.New(confidence.DefaultConfig()),
		&stubRetriever{},
	)
	d := r.Resolve(context.Background(), "turn on handles", nil)
	assert.Equal(t, models.ActionInfraError, d.Action)
}

func TestNoteCommands(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()

	d := r.Resolve(ctx, "start notes", nil)
	assert.Equal(t, models.ActionNote, d.Action)
	require.NotNil(t, d.Note)
	assert.Equal(t, models.NoteStart, d.Note.Op)

	d = r.Resolve(ctx, "Note this: the implant looks tilted", nil)
	assert.Equal(t, models.ActionNote, d.Action)
	require.NotNil(t, d.Note)
	assert.Equal(t, models.NoteAdd, d.Note.Op)
	assert.Equal(t, "the implant looks tilted", d.Note.Text)
	assert.Nil(t, d.Target)

	d = r.Resolve(ctx, "note", nil)
	assert.Equal(t, models.ActionClarification, d.Action)

	d = r.Resolve(ctx, "end notes", nil)
	require.NotNil(t, d.Note)
	assert.Equal(t, models.NoteEnd, d.Note.Op)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newRouter(t, router.DefaultConfig(), &stubRetriever{})
	ctx := context.Background()
	for _, text := range []string{"turn on handles", "set contrast to 30%", "turn on the nerve and the sinus"} {
		first := r.Resolve(ctx, text, nil)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, r.Resolve(ctx, text, nil), text)
		}
	}
}
