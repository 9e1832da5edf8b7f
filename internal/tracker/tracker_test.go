package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFullClassifiesAddedUpdatedDeleted(t *testing.T) {
	node := &Node{Revisions: map[string]string{"a": "r1", "b": "r1"}}
	tr := New(node, 0)

	current := map[string]string{"a": "r1", "b": "r2", "c": "r1"}
	changes := tr.Detect(Full, current)

	assert.Equal(t, map[string]string{"c": "r1"}, changes.Added)
	assert.Equal(t, map[string]string{"b": "r2"}, changes.Updated)
	assert.Equal(t, map[string]string{}, changes.Deleted)

	// "a" unchanged and not re-reported.
	_, touched := changes.Updated["a"]
	assert.False(t, touched)
}

func TestDetectFullReportsDeletions(t *testing.T) {
	node := &Node{Revisions: map[string]string{"a": "r1", "b": "r1"}}
	tr := New(node, 0)

	changes := tr.Detect(Full, map[string]string{"a": "r1"})
	assert.Equal(t, map[string]string{"b": "r1"}, changes.Deleted)
}

func TestDetectSlowTreatsUnchangedAsUpdated(t *testing.T) {
	node := &Node{Revisions: map[string]string{"a": "r1"}}
	tr := New(node, 0)

	changes := tr.Detect(Slow, map[string]string{"a": "r1"})
	assert.Equal(t, map[string]string{"a": "r1"}, changes.Updated)
}

func TestDetectNoneSkipsComputation(t *testing.T) {
	node := &Node{Revisions: map[string]string{"a": "r1"}}
	tr := New(node, 0)

	changes := tr.Detect(None, map[string]string{"a": "r2", "b": "r1"})
	assert.Empty(t, changes.Added)
	assert.Empty(t, changes.Updated)
	assert.Empty(t, changes.Deleted)
}

func TestRecordAddOrUpdateHandlesRename(t *testing.T) {
	node := &Node{Revisions: map[string]string{"old": "r1"}}
	tr := New(node, 0)

	tr.RecordAddOrUpdate("old", "new", "r2")
	assert.Equal(t, map[string]string{"new": "r2"}, node.Revisions)
}

func TestRecordDeleteRemovesEntry(t *testing.T) {
	node := &Node{Revisions: map[string]string{"a": "r1"}}
	tr := New(node, 0)
	tr.RecordDelete("a")
	assert.Empty(t, node.Revisions)
}

func TestEndSessionWaitsForQuiescence(t *testing.T) {
	node := &Node{Revisions: map[string]string{}}
	tr := New(node, 30*time.Millisecond)
	tr.RecordAddOrUpdate("", "a", "r1")

	start := time.Now()
	require.NoError(t, tr.EndSession(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestEndSessionRespectsContext(t *testing.T) {
	node := &Node{Revisions: map[string]string{}}
	tr := New(node, time.Second)
	tr.RecordAddOrUpdate("", "a", "r1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := tr.EndSession(ctx)
	assert.Error(t, err)
}
