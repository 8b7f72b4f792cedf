package diarization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestProcessor_ProcessFinal_SingleSpeaker(t *testing.T) {
	p := NewProcessor()

	segs := p.ProcessFinal("안녕하세요.", []Word{
		{Word: "안녕하세요.", Start: 0.2, End: 1.1, SpeakerTag: nil},
	})

	require.Len(t, segs, 1)
	assert.Equal(t, "안녕하세요.", segs[0].Text)
	assert.Equal(t, 0.2, segs[0].Start)
	assert.Equal(t, 1.1, segs[0].End)
}

func TestProcessor_ProcessFinal_DedupAcrossCalls(t *testing.T) {
	p := NewProcessor()
	words := []Word{{Word: "hello", Start: 0, End: 1}}

	first := p.ProcessFinal("hello", words)
	require.Len(t, first, 1)

	second := p.ProcessFinal("hello", words)
	assert.Empty(t, second, "words already consumed must not re-emit")
}

func TestProcessor_ProcessFinal_SpeakerBoundary(t *testing.T) {
	p := NewProcessor()

	segs := p.ProcessFinal("hello world", []Word{
		{Word: "hello", Start: 0, End: 0.5, SpeakerTag: intp(1)},
		{Word: "world", Start: 0.6, End: 1.0, SpeakerTag: intp(2)},
	})

	require.Len(t, segs, 2)
	assert.Equal(t, intp(1), segs[0].Speaker)
	assert.Equal(t, intp(2), segs[1].Speaker)
}

func TestProcessor_ProcessFinal_NoWordsFallsBackToDiff(t *testing.T) {
	p := NewProcessor()

	segs := p.ProcessFinal("hello", nil)
	require.Len(t, segs, 1)
	assert.Nil(t, segs[0].Speaker)
	assert.Equal(t, "hello", segs[0].Text)

	more := p.ProcessFinal("hello world", nil)
	require.Len(t, more, 1)
	assert.Equal(t, "world", more[0].Text)
}

func TestNewSuffix(t *testing.T) {
	assert.Equal(t, "world", NewSuffix("hello ", "hello world"))
	assert.Equal(t, "entirely different", NewSuffix("abc", "entirely different"))
	assert.Equal(t, "", NewSuffix("same", "same"))
}

func TestSegmentMonotonicity(t *testing.T) {
	p := NewProcessor()
	segs := p.ProcessFinal("a b c", []Word{
		{Word: "a", Start: 0, End: 1},
		{Word: "b", Start: 1, End: 2},
		{Word: "c", Start: 2, End: 3},
	})
	for _, s := range segs {
		assert.GreaterOrEqual(t, s.End, s.Start)
	}
}
