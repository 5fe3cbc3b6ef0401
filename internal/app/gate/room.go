/*
Package gate contains the admission-control state machine for chat-room participation.

This file defines the Room struct, the per-room context that owns one trust
partition, the room's signing identity, and the moderator handle computed at
bootstrap. It evaluates the two user-facing triggers — a user becoming visible
and a user attempting to post — against the trust partition, and drives the
challenge round-trips that gate unverified users.

Per (room, user) the states are Unseen -> Challenged -> Verified, with
Challenged -> Challenged on a wrong answer or a stale challenge, and a direct
Unseen -> Verified edge when the room requires no puzzle or the user is
privileged. Verified is absorbing: entries are only ever added.
*/
package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sogsgate/internal/app/host"
	"sogsgate/internal/app/identity"
	"sogsgate/internal/app/trust"
	"sogsgate/internal/configs"
	"sogsgate/internal/pkg/errs"
)

const (
	// sendDelay is the pause between preparing an outbound message and handing
	// it to the host, cancellable with the room context's lifetime.
	sendDelay = 10 * time.Millisecond

	// DefaultChallengePrompt is used when a puzzle room configures no welcome text.
	DefaultChallengePrompt = "please reply with the characters shown in the image to join the conversation"
)

// Room is the per-room admission context.
type Room struct {
	token    string
	cfg      configs.RoomConfig
	identity *identity.Identity
	trust    *trust.Partition
	reg      *Registry

	// mu guards the host-supplied references below.
	mu       sync.Mutex
	roomID   int64
	serverPk string
	handle   string

	logger zerolog.Logger
}

// noteRefs records the numeric room id and server key carried by a host event.
// The server key is taken once; the host never changes it mid-process.
func (r *Room) noteRefs(ref host.RoomRef, server *host.ServerRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref.ID != 0 {
		r.roomID = ref.ID
	}
	if server != nil && r.serverPk == "" {
		r.serverPk = server.Pk
	}
}

// senderHandle returns the room's blinded moderator handle, deriving and
// caching it on first use. Fails if no server key has been observed yet.
func (r *Room) senderHandle() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != "" {
		return r.handle, nil
	}
	if r.serverPk == "" {
		return "", errs.NewError(errs.ErrMissingIdentity)
	}

	handle, err := r.identity.Handle(r.serverPk)
	if err != nil {
		return "", err
	}

	r.handle = handle
	return handle, nil
}

// currentRoomID returns the last host-reported numeric id for this room.
func (r *Room) currentRoomID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.roomID
}

// handleVisible evaluates the user-became-visible trigger.
func (r *Room) handleVisible(user host.User, ref host.RoomRef, server *host.ServerRef) {
	r.noteRefs(ref, server)

	if r.trust.IsVerified(user.ID) {
		return
	}

	if user.Privileged() {
		r.trust.MarkVerified(user.ID)
		r.reg.persist.NoteChange()
		r.logger.Debug().Int64("user_id", user.ID).Msg("Privileged user marked verified")
		return
	}

	rec, exists := r.trust.Pending(user.SessionID)
	if exists && !rec.Stale(time.Now()) {
		return
	}

	if !r.cfg.RequirePuzzle {
		// Direct Unseen -> Verified edge. The optional welcome message is a
		// side effect, not a gate: verification does not wait on it.
		r.trust.MarkVerified(user.ID)
		r.trust.SetPending(user.SessionID, trust.Record{})
		r.reg.persist.NoteChange()

		if r.cfg.WelcomeText != "" {
			r.reg.spawn(func(ctx context.Context) {
				r.sendWhisper(ctx, user.SessionID, r.cfg.WelcomeText, 0)
			})
		}
		return
	}

	r.reg.spawn(func(ctx context.Context) {
		r.issueChallenge(ctx, user, rec, true)
	})
}

// handleBeforePost evaluates the pre-post gate and returns the action the host
// must apply to the post. The decision is made synchronously against in-memory
// state; retraction and re-issuance run as continuations.
func (r *Room) handleBeforePost(msg host.Message, ref host.RoomRef, server *host.ServerRef) string {
	r.noteRefs(ref, server)
	user := msg.User

	if user.Privileged() {
		if !r.trust.IsVerified(user.ID) {
			r.trust.MarkVerified(user.ID)
			r.reg.persist.NoteChange()
		}
		return host.ActionSend
	}

	if r.trust.IsVerified(user.ID) {
		return host.ActionSend
	}

	if !r.cfg.RequirePuzzle {
		r.trust.MarkVerified(user.ID)
		r.trust.SetPending(user.SessionID, trust.Record{})
		r.reg.persist.NoteChange()
		return host.ActionSend
	}

	rec, exists := r.trust.Pending(user.SessionID)

	// A stale record is still checked here: staleness only drives re-issuance
	// on the visibility trigger, never an in-flight answer evaluation.
	if exists && rec.Answer != "" && strings.EqualFold(strings.TrimSpace(msg.Text), rec.Answer) {
		r.trust.MarkVerified(user.ID)
		r.trust.SetPending(user.SessionID, trust.Record{})
		r.reg.persist.NoteChange()

		r.logger.Info().Int64("user_id", user.ID).Msg("User solved verification puzzle")

		r.reg.spawn(func(ctx context.Context) {
			r.acknowledge(ctx, user, rec)
		})
		return host.ActionDrop
	}

	r.reg.spawn(func(ctx context.Context) {
		r.issueChallenge(ctx, user, rec, false)
	})
	return host.ActionReject
}

// issueChallenge runs the challenge continuation: retract any superseded
// challenge message, render and upload a fresh puzzle, send the whisper
// carrying it, and record the new pending state. Every step after a host
// round-trip re-validates that the user is still unverified; on any failure
// the user's prior state is left untouched so a later trigger can retry.
func (r *Room) issueChallenge(ctx context.Context, user host.User, prev trust.Record, greeting bool) {
	handle, err := r.senderHandle()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot issue challenge without a room identity")
		return
	}

	// At most one live challenge per user: the superseded message goes away
	// even if issuing the replacement fails below.
	if prev.MessageID != 0 {
		if err := r.reg.commander.DeleteMessage(ctx, r.token, handle, prev.MessageID); err != nil {
			r.logger.Warn().Err(err).Int64("message_id", prev.MessageID).Msg("Failed to retract superseded challenge message")
		}
	}

	issued, err := r.reg.issuer.Issue(ctx, r.token, handle, r.cfg.PuzzleDifficult)
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Challenge issuance failed; user state unchanged")
		return
	}

	if r.trust.IsVerified(user.ID) {
		// First resolved answer wins; a concurrent pass verified this user
		// while the upload was in flight.
		return
	}

	text := DefaultChallengePrompt
	if greeting && r.cfg.WelcomeText != "" {
		text = r.cfg.WelcomeText
	}

	msgID, ok := r.sendWhisper(ctx, user.SessionID, text, issued.FileID)
	if !ok {
		return
	}

	r.trust.SetPending(user.SessionID, trust.Record{
		Answer:    issued.Answer,
		IssuedAt:  time.Now().UnixMilli(),
		MessageID: msgID,
	})
	r.reg.persist.NoteChange()
}

// acknowledge retracts the solved challenge message and sends the optional
// one-time verified acknowledgement.
func (r *Room) acknowledge(ctx context.Context, user host.User, solved trust.Record) {
	handle, err := r.senderHandle()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot acknowledge verification without a room identity")
		return
	}

	if solved.MessageID != 0 {
		if err := r.reg.commander.DeleteMessage(ctx, r.token, handle, solved.MessageID); err != nil {
			r.logger.Warn().Err(err).Int64("message_id", solved.MessageID).Msg("Failed to retract solved challenge message")
		}
	}

	if r.cfg.VerifiedText != "" {
		r.sendWhisper(ctx, user.SessionID, r.cfg.VerifiedText, 0)
	}
}

// sendWhisper signs and sends a whispered message to the given recipient,
// optionally attaching an uploaded file. Returns the host-assigned message id
// and whether the send succeeded.
func (r *Room) sendWhisper(ctx context.Context, recipient, text string, attachmentID int64) (int64, bool) {
	handle, err := r.senderHandle()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cannot send message without a room identity")
		return 0, false
	}

	sealed := r.identity.Seal(recipient + ", " + text)

	if !r.delayBeforeSend(ctx) {
		return 0, false
	}

	msgID, err := r.reg.commander.SendMessage(ctx, host.SendMessage{
		RoomID:       r.currentRoomID(),
		Sender:       handle,
		Data:         sealed.Data,
		Signature:    sealed.Signature,
		WhisperTo:    recipient,
		AttachmentID: attachmentID,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("recipient", recipient).Msg("Message send failed")
		return 0, false
	}

	return msgID, true
}

// delayBeforeSend waits the configured pause before a send, honoring context
// cancellation. Reports whether the send should proceed.
func (r *Room) delayBeforeSend(ctx context.Context) bool {
	timer := time.NewTimer(sendDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
