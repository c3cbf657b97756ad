// Package testutil holds in-process stand-ins for the model backends.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

const Dim = 256

// Embedder hashes words into a fixed-size bag-of-words vector, so texts
// sharing words land close together.
type Embedder struct {
	mu sync.Mutex
	// FailFirst makes the first n calls fail with Err.
	FailFirst int
	Err       error
	Calls     int
}

func (e *Embedder) fail() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	if e.Calls <= e.FailFirst {
		if e.Err != nil {
			return e.Err
		}
		return errors.New("embedding backend unavailable")
	}
	return nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.fail(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.fail(); err != nil {
		return nil, err
	}
	return Vector(text), nil
}

// CreateEmbedding lets Embedder stand in for a langchaingo embedding client.
func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedDocuments(ctx, texts)
}

// Vector is the deterministic embedding used by Embedder.
func Vector(text string) []float32 {
	v := make([]float32, Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dim]++
	}
	// Keep the vector non-zero so cosine similarity is defined.
	v[Dim-1] += 0.01
	return v
}

// Generator records every call and answers with Respond.
type Generator struct {
	mu       sync.Mutex
	Respond  func(messages []llms.MessageContent) (string, error)
	Requests [][]llms.MessageContent
	Options  []llms.CallOptions
}

func (g *Generator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	g.mu.Lock()
	g.Requests = append(g.Requests, messages)
	g.Options = append(g.Options, opts)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := "ok"
	if g.Respond != nil {
		var err error
		if out, err = g.Respond(messages); err != nil {
			return nil, err
		}
	}

	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(out, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

// Calls returns the number of GenerateContent calls so far.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// Text returns the text of a message's parts.
func Text(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// LastHuman returns the final human turn of messages.
func LastHuman(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.ChatMessageTypeHuman {
			return Text(messages[i])
		}
	}
	return ""
}
