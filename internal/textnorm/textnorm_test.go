package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Turn ON the X-Ray flashlight!", "turn on the x ray flashlight"},
		{"  set   brightness to 70% ", "set brightness to 70 %"},
		{"give me implant 4.2x12", "give me implant 4.2 x 12"},
		{"4.2 × 12mm", "4.2 x 12 mm"},
		{"What's the sinus?", "what is the sinus"},
		{"end.", "end"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Canonicalize(c.in), c.in)
	}
}

func TestContentTokens(t *testing.T) {
	assert.Equal(t, []string{"nerve", "overlay"}, ContentTokens("Please turn on the nerve overlay"))
	assert.Equal(t, []string{"implant"}, ContentTokens("give me implant 4.2 x 12"))
	assert.Empty(t, ContentTokens("4 by 10"))
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"overlay", "sinus"}, Terms("What is the sinus overlay? The sinus!"))
}

func TestIsBareValue(t *testing.T) {
	for _, s := range []string{"4.2 x 12", "70%", "make it 60 please", "height 4 length 10", "max"} {
		assert.True(t, IsBareValue(s), s)
	}
	for _, s := range []string{"implant 4 x 10", "brightness 50", "thanks", ""} {
		assert.False(t, IsBareValue(s), s)
	}
}

func TestSequenceMatching(t *testing.T) {
	hay := []string{"turn", "the", "nerve", "on"}
	assert.Equal(t, -1, ContainsSeq(hay, []string{"turn", "on"}))
	start, end, ok := InOrderSpan(hay, []string{"turn", "on"})
	assert.True(t, ok)
	assert.Equal(t, [2]int{0, 4}, [2]int{start, end})
	assert.Equal(t, 2, ContainsSeq(hay, []string{"nerve", "on"}))
	_, _, ok = InOrderSpan(hay, []string{"on", "turn"})
	assert.False(t, ok)
}
