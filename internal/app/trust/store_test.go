package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition_MarkVerifiedIsMonotonicAndIdempotent(t *testing.T) {
	p := NewPartition()

	require.False(t, p.IsVerified(7))

	p.MarkVerified(7)
	p.MarkVerified(7)

	require.True(t, p.IsVerified(7))

	verified, pending := p.Counts()
	assert.Equal(t, 1, verified)
	assert.Equal(t, 0, pending)
}

func TestPartition_PendingSupersedes(t *testing.T) {
	p := NewPartition()

	_, ok := p.Pending("15abc")
	require.False(t, ok)

	p.SetPending("15abc", Record{Answer: "A4C7", IssuedAt: 100, MessageID: 1})
	p.SetPending("15abc", Record{Answer: "X9L3", IssuedAt: 200, MessageID: 2})

	rec, ok := p.Pending("15abc")
	require.True(t, ok)
	assert.Equal(t, "X9L3", rec.Answer)
	assert.Equal(t, int64(2), rec.MessageID)
}

func TestRecord_StaleBoundary(t *testing.T) {
	now := time.Now()

	issued := now.Add(-PendingTTL)
	exactly := Record{Answer: "A4C7", IssuedAt: issued.UnixMilli()}
	assert.False(t, exactly.Stale(now), "a record aged exactly 30 days is not yet stale")

	past := Record{Answer: "A4C7", IssuedAt: now.Add(-PendingTTL - time.Minute).UnixMilli()}
	assert.True(t, past.Stale(now))

	soft := Record{IssuedAt: now.Add(-2 * PendingTTL).UnixMilli()}
	assert.False(t, soft.Stale(now), "records without an answer never go stale")
}

func TestStore_PartitionIsLazyAndStable(t *testing.T) {
	s := NewStore()

	a := s.Partition("room-a")
	b := s.Partition("room-a")
	require.Same(t, a, b)

	other := s.Partition("room-b")
	require.NotSame(t, a, other)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := NewStore()

	a := s.Partition("room-a")
	a.MarkVerified(3)
	a.MarkVerified(1)
	a.MarkVerified(2)
	a.SetPending("15aa", Record{Answer: "K7M4", IssuedAt: 1234, MessageID: 77})
	a.SetPending("15bb", Record{})

	b := s.Partition("room-b")
	b.MarkVerified(42)

	snap := NewSnapshot()
	s.Dump(snap)

	assert.Equal(t, []int64{1, 2, 3}, snap.Verified["room-a"])
	assert.Equal(t, []int64{42}, snap.Verified["room-b"])

	restored := NewStore()
	restored.Load(snap)

	again := NewSnapshot()
	restored.Dump(again)

	require.Equal(t, snap.Verified, again.Verified)
	require.Equal(t, snap.Rooms, again.Rooms)

	rec, ok := restored.Partition("room-a").Pending("15aa")
	require.True(t, ok)
	assert.Equal(t, "K7M4", rec.Answer)
	assert.Equal(t, int64(77), rec.MessageID)
}

func TestStore_LoadNilIsEmpty(t *testing.T) {
	s := NewStore()
	s.Partition("stale").MarkVerified(1)

	s.Load(nil)

	assert.False(t, s.Partition("stale").IsVerified(1))
}
