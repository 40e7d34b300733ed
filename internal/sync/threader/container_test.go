package threader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePhantomReusesExisting(t *testing.T) {
	g := newContainerGraph()
	a := g.getOrCreatePhantom("a@x")
	b := g.getOrCreatePhantom("a@x")
	assert.Same(t, a, b)
	assert.True(t, a.isPhantom())
}

func TestSetRealPromotesPhantom(t *testing.T) {
	g := newContainerGraph()
	phantom := g.getOrCreatePhantom("m1@x")
	require.True(t, phantom.isPhantom())

	real := g.setReal(EmailData{EmailID: 1, MessageID: "m1@x", Date: time.Now()})
	assert.Same(t, phantom, real)
	assert.False(t, real.isPhantom())
	assert.Equal(t, int32(1), real.email.EmailID)
}

func TestLinkRejectsSelfLink(t *testing.T) {
	g := newContainerGraph()
	c := g.setReal(EmailData{EmailID: 1, MessageID: "m1@x"})
	assert.False(t, g.link(c, c))
}

func TestLinkRejectsSecondParent(t *testing.T) {
	g := newContainerGraph()
	child := g.setReal(EmailData{EmailID: 1, MessageID: "child@x"})
	p1 := g.setReal(EmailData{EmailID: 2, MessageID: "p1@x"})
	p2 := g.setReal(EmailData{EmailID: 3, MessageID: "p2@x"})

	assert.True(t, g.link(child, p1))
	assert.False(t, g.link(child, p2))
	assert.Same(t, p1, child.parent)
	assert.Len(t, p2.children, 0)
}

func TestLinkRejectsCycle(t *testing.T) {
	g := newContainerGraph()
	a := g.setReal(EmailData{EmailID: 1, MessageID: "a@x"})
	b := g.setReal(EmailData{EmailID: 2, MessageID: "b@x"})
	c := g.setReal(EmailData{EmailID: 3, MessageID: "c@x"})

	require.True(t, g.link(b, a)) // a -> b
	require.True(t, g.link(c, b)) // b -> c

	// Linking a under c would close the cycle a -> b -> c -> a.
	assert.False(t, g.link(a, c))
}

func TestLinkConcurrentRaceOnlyOneWins(t *testing.T) {
	g := newContainerGraph()
	child := g.setReal(EmailData{EmailID: 1, MessageID: "child@x"})
	p1 := g.setReal(EmailData{EmailID: 2, MessageID: "p1@x"})
	p2 := g.setReal(EmailData{EmailID: 3, MessageID: "p2@x"})

	results := make(chan bool, 2)
	go func() { results <- g.link(child, p1) }()
	go func() { results <- g.link(child, p2) }()

	r1, r2 := <-results, <-results
	assert.True(t, r1 != r2, "exactly one of the two racing links should succeed")
	assert.NotNil(t, child.parent)
}
