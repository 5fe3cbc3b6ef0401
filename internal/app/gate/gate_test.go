package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sogsgate/internal/app/challenge"
	"sogsgate/internal/app/host"
	"sogsgate/internal/app/trust"
	"sogsgate/internal/configs"
)

const (
	testServerPk = "c3b3c6f32fcd7aa756e98e24b54c0f712f5c4b0ffd3fafbed652c7ada6022fdd"
	puzzleRoom   = "lobby"
	openRoom     = "lounge"
)

// fakeCommander records every command the gate issues.
type fakeCommander struct {
	mu        sync.Mutex
	mods      []string
	sends     []host.SendMessage
	deletes   []int64
	replies   []string
	nextMsgID int64
	sendErr   error
}

func (f *fakeCommander) SetRoomModerator(ctx context.Context, roomToken, user string, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mods = append(f.mods, user)
	return nil
}

func (f *fakeCommander) SendMessage(ctx context.Context, msg host.SendMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextMsgID++
	f.sends = append(f.sends, msg)
	return f.nextMsgID, nil
}

func (f *fakeCommander) DeleteMessage(ctx context.Context, roomToken, user string, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeCommander) Reply(replyToken, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, action)
	return nil
}

func (f *fakeCommander) lastReply(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.replies)
	return f.replies[len(f.replies)-1]
}

func (f *fakeCommander) sentMessages() []host.SendMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.SendMessage(nil), f.sends...)
}

func (f *fakeCommander) deletedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.deletes...)
}

func (f *fakeCommander) moderators() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mods...)
}

// fakeUploader satisfies challenge.Uploader with host-free file ids.
type fakeUploader struct {
	mu      sync.Mutex
	uploads int
	fileID  int64
	err     error
}

func (f *fakeUploader) UploadFile(ctx context.Context, roomToken, uploader string, data []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.err != nil {
		return 0, f.err
	}
	f.fileID++
	return f.fileID, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// fakePersister counts change notifications.
type fakePersister struct {
	mu      sync.Mutex
	changes int
	flushes int
}

func (f *fakePersister) NoteChange() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes++
}

func (f *fakePersister) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func testRoomConfigs() map[string]configs.RoomConfig {
	return map[string]configs.RoomConfig{
		puzzleRoom: {
			WelcomeText:     "welcome! solve the image to talk",
			RequirePuzzle:   true,
			PuzzleDifficult: false,
			VerifiedText:    "you are verified, have fun",
		},
		openRoom: {
			WelcomeText: "make yourself at home",
		},
	}
}

func newTestRegistry(t *testing.T, snap *trust.Snapshot) (*Registry, *fakeCommander, *fakeUploader, *fakePersister) {
	t.Helper()

	commander := &fakeCommander{}
	uploader := &fakeUploader{}
	persister := &fakePersister{}

	issuer := challenge.NewIssuer(challenge.PNGRenderer{}, uploader)

	g, err := NewRegistry(testRoomConfigs(), commander, issuer, snap)
	require.NoError(t, err)
	g.SetPersistence(persister)
	t.Cleanup(g.Shutdown)

	return g, commander, uploader, persister
}

// settle waits for all spawned continuations of previously handled events.
// Continuations are registered synchronously during HandleEvent, so this is
// race-free.
func settle(g *Registry) {
	g.wg.Wait()
}

func plainUser(id int64, handle string) host.User {
	return host.User{ID: id, SessionID: handle}
}

func visibleEvent(user host.User, token string) host.Event {
	return host.Event{
		Type:   host.EventUserVisible,
		User:   &user,
		Room:   &host.RoomRef{ID: 11, Token: token},
		Server: &host.ServerRef{Pk: testServerPk},
	}
}

func postEvent(user host.User, token, text, replyToken string) host.Event {
	return host.Event{
		Type:       host.EventBeforePost,
		Message:    &host.Message{User: user, Text: text},
		Room:       &host.RoomRef{ID: 11, Token: token},
		Server:     &host.ServerRef{Pk: testServerPk},
		ReplyToken: replyToken,
	}
}

func TestVisible_OpenRoomVerifiesImmediately(t *testing.T) {
	g, commander, uploader, persister := newTestRegistry(t, nil)
	ctx := context.Background()

	user := plainUser(7, "15user7")
	g.HandleEvent(ctx, visibleEvent(user, openRoom))
	settle(g)

	p := g.Room(openRoom).trust
	assert.True(t, p.IsVerified(7))

	rec, ok := p.Pending("15user7")
	require.True(t, ok)
	assert.Empty(t, rec.Answer, "no challenge may ever be created in a puzzle-free room")

	assert.Zero(t, uploader.count())
	assert.GreaterOrEqual(t, persister.changes, 1)

	sends := commander.sentMessages()
	require.Len(t, sends, 1, "welcome message is still sent")
	assert.Equal(t, "15user7", sends[0].WhisperTo)
	assert.Zero(t, sends[0].AttachmentID)
}

func TestVisible_PuzzleRoomIssuesChallenge(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	before := time.Now().UnixMilli()
	user := plainUser(8, "15user8")
	g.HandleEvent(ctx, visibleEvent(user, puzzleRoom))
	settle(g)

	p := g.Room(puzzleRoom).trust
	assert.False(t, p.IsVerified(8), "an unanswered challenge must not verify")

	rec, ok := p.Pending("15user8")
	require.True(t, ok)
	assert.NotEmpty(t, rec.Answer)
	assert.GreaterOrEqual(t, rec.IssuedAt, before)
	assert.LessOrEqual(t, rec.IssuedAt, time.Now().UnixMilli())
	assert.NotZero(t, rec.MessageID)

	assert.Equal(t, 1, uploader.count(), "exactly one puzzle upload")

	sends := commander.sentMessages()
	require.Len(t, sends, 1)
	assert.Equal(t, "15user8", sends[0].WhisperTo)
	assert.NotZero(t, sends[0].AttachmentID, "challenge message carries the puzzle image")
}

func TestVisible_RedeliveryIsIdempotent(t *testing.T) {
	g, _, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	user := plainUser(9, "15user9")

	g.HandleEvent(ctx, visibleEvent(user, puzzleRoom))
	settle(g)
	require.Equal(t, 1, uploader.count())

	first, _ := g.Room(puzzleRoom).trust.Pending("15user9")

	g.HandleEvent(ctx, visibleEvent(user, puzzleRoom))
	settle(g)

	assert.Equal(t, 1, uploader.count(), "a live challenge must not be re-issued")

	again, _ := g.Room(puzzleRoom).trust.Pending("15user9")
	assert.Equal(t, first, again)
}

func TestVisible_PrivilegedUserBypasses(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	moderator := host.User{ID: 10, SessionID: "15mod", Moderator: true}
	g.HandleEvent(ctx, visibleEvent(moderator, puzzleRoom))
	settle(g)

	p := g.Room(puzzleRoom).trust
	assert.True(t, p.IsVerified(10))

	_, ok := p.Pending("15mod")
	assert.False(t, ok)
	assert.Zero(t, uploader.count())
	assert.Empty(t, commander.sentMessages())

	// Room-scoped rights count the same as global ones.
	roomAdmin := host.User{ID: 11, SessionID: "15adm", RoomPermissions: host.RoomPermissions{Admin: true}}
	g.HandleEvent(ctx, visibleEvent(roomAdmin, puzzleRoom))
	settle(g)
	assert.True(t, p.IsVerified(11))
}

func TestVisible_StaleChallengeReissued(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := g.Room(puzzleRoom).trust
	staleIssued := time.Now().Add(-trust.PendingTTL - time.Hour).UnixMilli()
	p.SetPending("15late", trust.Record{Answer: "A4C7", IssuedAt: staleIssued, MessageID: 55})

	g.HandleEvent(ctx, visibleEvent(plainUser(12, "15late"), puzzleRoom))
	settle(g)

	assert.Equal(t, 1, uploader.count())
	assert.Contains(t, commander.deletedIDs(), int64(55), "superseded challenge message is retracted")

	rec, ok := p.Pending("15late")
	require.True(t, ok)
	assert.NotEqual(t, "A4C7", rec.Answer)
	assert.Greater(t, rec.IssuedAt, staleIssued)
}

func TestVisible_ChallengeAtExactTTLNotReissued(t *testing.T) {
	g, _, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := g.Room(puzzleRoom).trust
	p.SetPending("15edge", trust.Record{
		Answer:   "A4C7",
		IssuedAt: time.Now().Add(-trust.PendingTTL).UnixMilli(),
	})

	g.HandleEvent(ctx, visibleEvent(plainUser(13, "15edge"), puzzleRoom))
	settle(g)

	assert.Zero(t, uploader.count(), "a record aged exactly 30 days is not yet stale")
}

func TestBeforePost_CorrectAnswerVerifies(t *testing.T) {
	g, commander, _, persister := newTestRegistry(t, nil)
	ctx := context.Background()

	p := g.Room(puzzleRoom).trust
	p.SetPending("15solver", trust.Record{Answer: "K7M4", IssuedAt: time.Now().UnixMilli(), MessageID: 31})

	user := plainUser(20, "15solver")
	g.HandleEvent(ctx, postEvent(user, puzzleRoom, "  k7m4 ", "reply-1"))
	settle(g)

	assert.Equal(t, host.ActionDrop, commander.lastReply(t), "the answer post is dropped from the transcript")
	assert.True(t, p.IsVerified(20))

	rec, ok := p.Pending("15solver")
	require.True(t, ok)
	assert.Empty(t, rec.Answer, "solved challenge leaves a soft entry")

	assert.Contains(t, commander.deletedIDs(), int64(31), "challenge message is retracted")

	sends := commander.sentMessages()
	require.Len(t, sends, 1)
	assert.Equal(t, "15solver", sends[0].WhisperTo)

	assert.GreaterOrEqual(t, persister.changes, 1)
}

func TestBeforePost_WrongAnswerReissues(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := g.Room(puzzleRoom).trust
	p.SetPending("15wrong", trust.Record{Answer: "K7M4", IssuedAt: time.Now().UnixMilli(), MessageID: 40})

	user := plainUser(21, "15wrong")
	g.HandleEvent(ctx, postEvent(user, puzzleRoom, "definitely not", "reply-2"))
	settle(g)

	assert.Equal(t, host.ActionReject, commander.lastReply(t))
	assert.False(t, p.IsVerified(21))

	assert.Contains(t, commander.deletedIDs(), int64(40), "old challenge message is retracted")
	assert.Equal(t, 1, uploader.count(), "a fresh challenge is issued")

	rec, ok := p.Pending("15wrong")
	require.True(t, ok)
	assert.NotEmpty(t, rec.Answer)
	assert.NotEqual(t, "K7M4", rec.Answer, "re-issued challenge carries a freshly generated answer")
	assert.NotEqual(t, int64(40), rec.MessageID)
}

func TestBeforePost_StaleAnswerStillAccepted(t *testing.T) {
	g, commander, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := g.Room(puzzleRoom).trust
	p.SetPending("15slow", trust.Record{
		Answer:   "X9L3",
		IssuedAt: time.Now().Add(-2 * trust.PendingTTL).UnixMilli(),
	})

	g.HandleEvent(ctx, postEvent(plainUser(22, "15slow"), puzzleRoom, "x9l3", "reply-3"))
	settle(g)

	assert.Equal(t, host.ActionDrop, commander.lastReply(t),
		"staleness drives re-issuance on visibility, never an in-flight answer check")
	assert.True(t, p.IsVerified(22))
}

func TestBeforePost_UnseenUserRejectedAndChallenged(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, postEvent(plainUser(23, "15new"), puzzleRoom, "hello", "reply-4"))
	settle(g)

	assert.Equal(t, host.ActionReject, commander.lastReply(t))
	assert.Equal(t, 1, uploader.count())

	rec, ok := g.Room(puzzleRoom).trust.Pending("15new")
	require.True(t, ok)
	assert.NotEmpty(t, rec.Answer)
}

func TestBeforePost_PrivilegedAlwaysAdmitted(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	admin := host.User{ID: 24, SessionID: "15boss", Admin: true}
	g.HandleEvent(ctx, postEvent(admin, puzzleRoom, "first post", "reply-5"))
	settle(g)

	assert.Equal(t, host.ActionSend, commander.lastReply(t))
	assert.True(t, g.Room(puzzleRoom).trust.IsVerified(24))
	assert.Zero(t, uploader.count())
}

func TestBeforePost_OpenRoomAdmitsAndVerifies(t *testing.T) {
	g, commander, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, postEvent(plainUser(25, "15easy"), openRoom, "hi all", "reply-6"))
	settle(g)

	assert.Equal(t, host.ActionSend, commander.lastReply(t))
	assert.True(t, g.Room(openRoom).trust.IsVerified(25))
}

func TestBeforePost_UnconfiguredRoomPassesThrough(t *testing.T) {
	g, commander, uploader, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, postEvent(plainUser(26, "15ghost"), "decommissioned", "hello", "reply-7"))
	settle(g)

	assert.Equal(t, host.ActionSend, commander.lastReply(t))
	assert.Zero(t, uploader.count())
	assert.Nil(t, g.Room("decommissioned"))
}

func TestVisible_UnconfiguredRoomIsNoOp(t *testing.T) {
	g, commander, uploader, persister := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, visibleEvent(plainUser(27, "15ghost"), "decommissioned"))
	settle(g)

	assert.Zero(t, uploader.count())
	assert.Empty(t, commander.sentMessages())
	assert.Zero(t, persister.changes)
}

func TestVisible_UploadFailureLeavesStateUntouched(t *testing.T) {
	g, commander, uploader, persister := newTestRegistry(t, nil)
	uploader.err = errors.New("host did not respond in time")
	ctx := context.Background()

	g.HandleEvent(ctx, visibleEvent(plainUser(28, "15stuck"), puzzleRoom))
	settle(g)

	require.Equal(t, 1, uploader.count())

	p := g.Room(puzzleRoom).trust
	assert.False(t, p.IsVerified(28))

	_, ok := p.Pending("15stuck")
	assert.False(t, ok, "a failed round-trip must not record a challenge")
	assert.Empty(t, commander.sentMessages())
	assert.Zero(t, persister.changes)

	// The next visibility trigger retries from scratch.
	uploader.err = nil
	g.HandleEvent(ctx, visibleEvent(plainUser(28, "15stuck"), puzzleRoom))
	settle(g)

	_, ok = p.Pending("15stuck")
	assert.True(t, ok)
}

func TestBootstrap_ElevatesOncePerRoom(t *testing.T) {
	g, commander, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	loadEv := host.Event{
		Type: host.EventLoad,
		Rooms: []host.RoomRef{
			{ID: 11, Token: puzzleRoom},
			{ID: 12, Token: openRoom},
		},
		Server: &host.ServerRef{Pk: testServerPk},
	}

	g.HandleEvent(ctx, loadEv)
	settle(g)

	mods := commander.moderators()
	require.Len(t, mods, 2)
	for _, handle := range mods {
		assert.True(t, strings.HasPrefix(handle, "15"))
	}

	// Bootstrap is one-shot; a repeated load event changes nothing.
	g.HandleEvent(ctx, loadEv)
	settle(g)
	assert.Len(t, commander.moderators(), 2)
}

func TestShutdownEvent_FlushesUnconditionally(t *testing.T) {
	g, _, _, persister := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, host.Event{Type: host.EventShutdown})
	assert.Equal(t, 1, persister.flushes)
}

func TestSnapshot_RoundTripThroughRegistry(t *testing.T) {
	g, _, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, visibleEvent(plainUser(30, "15keep"), puzzleRoom))
	settle(g)
	g.Room(openRoom).trust.MarkVerified(31)

	snap := g.Snapshot()

	require.Contains(t, snap.Sessions, puzzleRoom)
	require.Contains(t, snap.Sessions, openRoom)
	assert.Equal(t, []int64{31}, snap.Verified[openRoom])

	restored, _, _, _ := newTestRegistry(t, snap)

	assert.True(t, restored.Room(openRoom).trust.IsVerified(31))

	origRec, ok := g.Room(puzzleRoom).trust.Pending("15keep")
	require.True(t, ok)
	restoredRec, ok := restored.Room(puzzleRoom).trust.Pending("15keep")
	require.True(t, ok)
	assert.Equal(t, origRec, restoredRec)

	// Identity seeds survive, so the room keeps its handle across restarts.
	assert.Equal(t, snap.Sessions[puzzleRoom], restored.Snapshot().Sessions[puzzleRoom])
}

func TestStats_ReportsPerRoomCounters(t *testing.T) {
	g, _, _, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	g.HandleEvent(ctx, visibleEvent(plainUser(32, "15stat"), puzzleRoom))
	settle(g)

	stats := g.Stats()
	require.Len(t, stats, 2)

	assert.Equal(t, puzzleRoom, stats[0].Token)
	assert.Equal(t, 1, stats[0].Pending)
	assert.Equal(t, 0, stats[0].Verified)
	assert.True(t, stats[0].RequirePuzzle)

	assert.Equal(t, openRoom, stats[1].Token)
}
