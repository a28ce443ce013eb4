package ai

import (
	"context"
	"strings"
)

// ReasoningExtractor splits streamed model output into reasoning and text
// chunks around <tag>...</tag> markers. Markers may arrive split across
// any number of deltas.
type ReasoningExtractor struct {
	openTag  string
	closeTag string
	inside   bool
	buf      string
}

func NewReasoningExtractor(tagName string) *ReasoningExtractor {
	return &ReasoningExtractor{
		openTag:  "<" + tagName + ">",
		closeTag: "</" + tagName + ">",
	}
}

// Push consumes one delta and returns the chunks that can be emitted so far.
func (e *ReasoningExtractor) Push(delta string) []Chunk {
	e.buf += delta
	var out []Chunk
	for {
		tag := e.openTag
		if e.inside {
			tag = e.closeTag
		}

		if idx := strings.Index(e.buf, tag); idx >= 0 {
			out = e.emit(out, e.buf[:idx])
			e.buf = e.buf[idx+len(tag):]
			e.inside = !e.inside
			continue
		}

		keep := partialSuffix(e.buf, tag)
		out = e.emit(out, e.buf[:len(e.buf)-keep])
		e.buf = e.buf[len(e.buf)-keep:]
		return out
	}
}

// Flush returns whatever is still held back. An unterminated reasoning
// block is emitted as reasoning.
func (e *ReasoningExtractor) Flush() []Chunk {
	out := e.emit(nil, e.buf)
	e.buf = ""
	return out
}

func (e *ReasoningExtractor) emit(out []Chunk, s string) []Chunk {
	if s == "" {
		return out
	}
	kind := ChunkText
	if e.inside {
		kind = ChunkReasoning
	}
	// merge with the previous chunk of the same kind
	if n := len(out); n > 0 && out[n-1].Kind == kind {
		out[n-1].Delta += s
		return out
	}
	return append(out, Chunk{Kind: kind, Delta: s})
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	k := len(tag) - 1
	if len(s) < k {
		k = len(s)
	}
	for ; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}

// ExtractReasoning rewrites a provider stream through a ReasoningExtractor.
func ExtractReasoning(ctx context.Context, in <-chan Chunk, tagName string) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		ex := NewReasoningExtractor(tagName)
		send := func(chunks []Chunk) bool {
			for _, c := range chunks {
				select {
				case out <- c:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for c := range in {
			if c.Err != nil {
				if send(ex.Flush()) {
					send([]Chunk{c})
				}
				return
			}
			if c.Kind == ChunkReasoning {
				if !send([]Chunk{c}) {
					return
				}
				continue
			}
			if !send(ex.Push(c.Delta)) {
				return
			}
		}
		send(ex.Flush())
	}()
	return out
}
