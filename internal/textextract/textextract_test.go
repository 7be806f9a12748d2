package textextract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	root        Node
	ok          bool
	initErr     error
	released    bool
	initBlocked time.Duration
}

func (f *fakeBackend) Init(ctx context.Context) (func(), error) {
	if f.initErr != nil {
		return func() {}, f.initErr
	}
	if f.initBlocked > 0 {
		select {
		case <-time.After(f.initBlocked):
		case <-ctx.Done():
		}
	}
	return func() { f.released = true }, nil
}

func (f *fakeBackend) Root(ctx context.Context, windowHandle uintptr) (Node, bool) {
	return f.root, f.ok
}

func TestExtractEmptyTreeReturnsEmpty(t *testing.T) {
	b := &fakeBackend{ok: false}
	got := Extract(context.Background(), b, 0)
	assert.Empty(t, got)
	assert.True(t, b.released, "release must be called even on empty tree")
}

func TestExtractInitFailureReturnsEmpty(t *testing.T) {
	b := &fakeBackend{initErr: assertErr("com init failed")}
	got := Extract(context.Background(), b, 0)
	assert.Empty(t, got)
}

func TestExtractCollectsTextEditDocumentOnly(t *testing.T) {
	root := Node{
		Kind: ControlDocument,
		Text: "",
		Children: []Node{
			{Kind: ControlText, Text: "hello"},
			{Kind: ControlEdit, Text: "world"},
			{Kind: 99, Text: "ignored-button-label"},
		},
	}
	b := &fakeBackend{root: root, ok: true}
	got := Extract(context.Background(), b, 0)
	assert.Contains(t, got, "hello")
	assert.Contains(t, got, "world")
	assert.NotContains(t, got, "ignored-button-label")
}

func TestExtractDedupsRepeatedText(t *testing.T) {
	root := Node{Children: []Node{
		{Kind: ControlText, Text: "same"},
		{Kind: ControlText, Text: "same"},
	}}
	b := &fakeBackend{root: root, ok: true}
	got := Extract(context.Background(), b, 0)
	assert.Equal(t, 1, strings.Count(got, "same"))
}

func TestExtractRespectsMaxDepth(t *testing.T) {
	// build a chain 7 deep; only nodes at depth <= MaxDepth should contribute
	deepest := Node{Kind: ControlText, Text: "too-deep"}
	n6 := Node{Kind: ControlText, Text: "d6", Children: []Node{deepest}}
	n5 := Node{Kind: ControlText, Text: "d5", Children: []Node{n6}}
	n4 := Node{Kind: ControlText, Text: "d4", Children: []Node{n5}}
	n3 := Node{Kind: ControlText, Text: "d3", Children: []Node{n4}}
	n2 := Node{Kind: ControlText, Text: "d2", Children: []Node{n3}}
	n1 := Node{Kind: ControlText, Text: "d1", Children: []Node{n2}}
	root := Node{Kind: ControlText, Text: "d0", Children: []Node{n1}}

	b := &fakeBackend{root: root, ok: true}
	got := Extract(context.Background(), b, 0)
	assert.Contains(t, got, "d5") // depth 5 is within MaxDepth
	assert.NotContains(t, got, "too-deep")
}

func TestExtractTruncatesAtMaxChars(t *testing.T) {
	root := Node{Kind: ControlText, Text: strings.Repeat("a", MaxChars+500)}
	b := &fakeBackend{root: root, ok: true}
	got := Extract(context.Background(), b, 0)
	assert.LessOrEqual(t, len(got), MaxChars)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestExtractReleasesOnSlowInitTimeout(t *testing.T) {
	b := &fakeBackend{ok: true, initBlocked: 2 * WallClockBudget}
	start := time.Now()
	_ = Extract(context.Background(), b, 0)
	require.Less(t, time.Since(start), 2*WallClockBudget)
	assert.True(t, b.released, "release must run after a deadline-cut Init")
}
