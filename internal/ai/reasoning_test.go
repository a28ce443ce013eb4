package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(chunks []Chunk) (reasoning, text string) {
	var r, t strings.Builder
	for _, c := range chunks {
		switch c.Kind {
		case ChunkReasoning:
			r.WriteString(c.Delta)
		case ChunkText:
			t.WriteString(c.Delta)
		}
	}
	return r.String(), t.String()
}

func TestReasoningExtractor_SingleDelta(t *testing.T) {
	ex := NewReasoningExtractor("think")
	chunks := ex.Push("<think>plan the answer</think>The answer is 4.")
	chunks = append(chunks, ex.Flush()...)

	reasoning, text := collect(chunks)
	assert.Equal(t, "plan the answer", reasoning)
	assert.Equal(t, "The answer is 4.", text)
}

func TestReasoningExtractor_TagsSplitAcrossDeltas(t *testing.T) {
	input := "<think>step one, step two</think>Final answer"

	// feed one byte at a time so every tag boundary is split
	ex := NewReasoningExtractor("think")
	var chunks []Chunk
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, ex.Push(input[i:i+1])...)
	}
	chunks = append(chunks, ex.Flush()...)

	reasoning, text := collect(chunks)
	assert.Equal(t, "step one, step two", reasoning)
	assert.Equal(t, "Final answer", text)
	for _, c := range chunks {
		assert.NotContains(t, c.Delta, "<")
		assert.NotContains(t, c.Delta, ">")
	}
}

func TestReasoningExtractor_HoldsBackPossibleTagPrefix(t *testing.T) {
	ex := NewReasoningExtractor("think")

	chunks := ex.Push("a <th")
	_, text := collect(chunks)
	assert.Equal(t, "a ", text)

	// not a tag after all
	chunks = ex.Push("ing")
	_, text = collect(chunks)
	assert.Equal(t, "<thing", text)
}

func TestReasoningExtractor_NoTags(t *testing.T) {
	ex := NewReasoningExtractor("think")
	chunks := append(ex.Push("2 < 3 and 5 > 4"), ex.Flush()...)

	reasoning, text := collect(chunks)
	assert.Empty(t, reasoning)
	assert.Equal(t, "2 < 3 and 5 > 4", text)
}

func TestReasoningExtractor_UnterminatedReasoning(t *testing.T) {
	ex := NewReasoningExtractor("think")
	chunks := append(ex.Push("<think>still thinking"), ex.Flush()...)

	reasoning, text := collect(chunks)
	assert.Equal(t, "still thinking", reasoning)
	assert.Empty(t, text)
}

func TestExtractReasoning_ForwardsError(t *testing.T) {
	in := make(chan Chunk, 3)
	in <- Chunk{Kind: ChunkText, Delta: "<think>x</th"}
	in <- Chunk{Err: errors.New("boom")}
	close(in)

	var got []Chunk
	for c := range ExtractReasoning(context.Background(), in, "think") {
		got = append(got, c)
	}

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.Error(t, last.Err)
	assert.Equal(t, "boom", last.Err.Error())

	reasoning, _ := collect(got[:len(got)-1])
	assert.Equal(t, "x</th", reasoning)
}
