package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	c := New(1200, 150)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\t  "))
}

func TestSplitSmallInputSingleChunk(t *testing.T) {
	c := New(1200, 150)

	pieces := c.Split("The pump ships in two days. It weighs four pounds.")
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Index)
	assert.Contains(t, pieces[0].Text, "two days")
	assert.Greater(t, pieces[0].TokenEstimate, 0)
}

func TestSplitRespectsSentenceBoundaries(t *testing.T) {
	c := New(120, 0)

	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("This is a simple filler sentence about industrial pumps. ")
	}
	pieces := c.Split(sb.String())
	require.Greater(t, len(pieces), 1)

	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
		// No chunk ends mid-sentence.
		assert.True(t, strings.HasSuffix(p.Text, "."), "chunk %d: %q", i, p.Text)
	}
}

func TestSplitOversizeSentenceStandsAlone(t *testing.T) {
	c := New(100, 10)

	long := "This single sentence keeps going with clause after clause about fittings and seals and gaskets and hoses and belts without a period for a very long stretch of text indeed"
	text := "Short lead. " + long + ". Short tail."

	pieces := c.Split(text)
	require.GreaterOrEqual(t, len(pieces), 3)

	var found bool
	for _, p := range pieces {
		if strings.Contains(p.Text, "clause after clause") {
			found = true
			assert.Greater(t, len(p.Text), c.targetSize)
		}
	}
	assert.True(t, found)
}

func TestSplitDeterministic(t *testing.T) {
	c := New(200, 40)
	text := strings.Repeat("Deterministic output matters for change detection. ", 20)

	a := c.Split(text)
	b := c.Split(text)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestSplitOverlapCarriesTrailingSentence(t *testing.T) {
	c := New(70, 60)

	text := "First sentence about valves here. Second sentence about seals here. Third sentence about pumps here."
	pieces := c.Split(text)
	require.Greater(t, len(pieces), 1)

	// The sentence that closed chunk 0 reappears at the head of chunk 1.
	firstTail := pieces[0].Text[strings.LastIndex(pieces[0].Text, ". ")+2:]
	assert.True(t, strings.HasPrefix(pieces[1].Text, firstTail),
		"chunk 1 %q should start with %q", pieces[1].Text, firstTail)
}

func TestFingerprintIgnoresWhitespace(t *testing.T) {
	a := Fingerprint("Pump  model   DC66-10P\n\tin stock.")
	b := Fingerprint("Pump model DC66-10P in stock.")
	c := Fingerprint("Pump model DC66-10P out of stock.")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 4, EstimateTokens("one two three"))
}
