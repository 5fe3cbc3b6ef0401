/*
Package host implements the asynchronous request/response channel to the host process.

This file defines the typed inbound events the host delivers and the outbound
command frames the gate sends back. Events carry host-assigned user records and
room references; commands are identified by a method name, mirroring the host's
plugin protocol. Correlated responses (upload and send results) reference the
single-use token of the command that produced them.
*/
package host

// Inbound event types.
const (
	EventUserVisible  = "userVisible"
	EventBeforePost   = "beforePost"
	EventLoad         = "load"
	EventUploadResult = "uploadResult"
	EventSendResult   = "sendResult"
	EventShutdown     = "shutdown"
)

// Outbound command methods.
const (
	MethodSetRoomModerator = "setRoomModerator"
	MethodSendMessage      = "sendMessage"
	MethodUploadFile       = "uploadFile"
	MethodDeleteMessage    = "deleteMessage"
)

// Actions for the synchronous beforePost reply.
const (
	ActionSend   = "send"
	ActionDrop   = "drop"
	ActionReject = "reject"
)

// RoomPermissions holds the host-reported per-room rights of a user.
type RoomPermissions struct {
	Admin     bool `json:"admin"`
	Moderator bool `json:"moderator"`
}

// User is the host-assigned record of a room participant.
type User struct {
	// ID is the numeric, host-assigned user identifier.
	ID int64 `json:"id"`

	// SessionID is the user's pseudonymous handle, stable per room.
	SessionID string `json:"session_id"`

	Admin           bool            `json:"admin"`
	Moderator       bool            `json:"moderator"`
	RoomPermissions RoomPermissions `json:"roomPermissions"`
}

// Privileged reports whether the host grants this user admin or moderator
// rights, globally or in the room the event refers to.
func (u User) Privileged() bool {
	return u.Admin || u.Moderator || u.RoomPermissions.Admin || u.RoomPermissions.Moderator
}

// RoomRef identifies a room by its numeric id and opaque token.
type RoomRef struct {
	ID    int64  `json:"id"`
	Token string `json:"token"`
}

// ServerRef carries the host server's public key.
type ServerRef struct {
	Pk string `json:"pk"`
}

// Message is a post the host asks the gate to evaluate.
type Message struct {
	User User   `json:"user"`
	Text string `json:"text"`
}

// Event is one typed inbound frame from the host. Which fields are populated
// depends on Type.
type Event struct {
	Type string `json:"type"`

	User    *User      `json:"user,omitempty"`
	Room    *RoomRef   `json:"room,omitempty"`
	Server  *ServerRef `json:"server,omitempty"`
	Message *Message   `json:"message,omitempty"`
	Rooms   []RoomRef  `json:"rooms,omitempty"`

	// ReplyToken must be echoed in the synchronous beforePost reply.
	ReplyToken string `json:"replyToken,omitempty"`

	// CorrelationToken matches an uploadResult or sendResult to its command.
	CorrelationToken string `json:"correlationToken,omitempty"`

	FileID    int64 `json:"fileId,omitempty"`
	MessageID int64 `json:"messageId,omitempty"`
}

// SendMessage describes an outbound room message.
type SendMessage struct {
	// RoomID is the numeric room identifier the host expects for sends.
	RoomID int64

	// Sender is the blinded handle the message is sent under.
	Sender string

	// Data and Signature are the signed wire payload, base64-encoded.
	Data      string
	Signature string

	// WhisperTo restricts visibility to one recipient handle, if set.
	WhisperTo string

	// AttachmentID references a previously uploaded file, if any.
	AttachmentID int64
}

// setRoomModeratorFrame is the wire shape of a moderator elevation request.
type setRoomModeratorFrame struct {
	Method  string `json:"method"`
	Room    string `json:"room"`
	User    string `json:"user"`
	Visible bool   `json:"visible"`
}

// sendMessageFrame is the wire shape of a message send request.
type sendMessageFrame struct {
	Method           string `json:"method"`
	Room             int64  `json:"room"`
	User             string `json:"user"`
	Data             string `json:"data"`
	Signature        string `json:"signature"`
	WhisperTo        string `json:"whisperTo,omitempty"`
	AttachmentID     int64  `json:"attachmentId,omitempty"`
	CorrelationToken string `json:"correlationToken"`
}

// uploadFileFrame is the wire shape of a file upload request.
type uploadFileFrame struct {
	Method           string `json:"method"`
	Room             string `json:"room"`
	Uploader         string `json:"uploader"`
	Bytes            string `json:"bytes"`
	CorrelationToken string `json:"correlationToken"`
}

// deleteMessageFrame is the wire shape of a message retraction request.
type deleteMessageFrame struct {
	Method    string `json:"method"`
	Room      string `json:"room"`
	User      string `json:"user"`
	MessageID int64  `json:"messageId"`
}

// replyFrame is the synchronous answer the host requires for a beforePost event.
type replyFrame struct {
	Ok         bool   `json:"ok"`
	Action     string `json:"action"`
	ReplyToken string `json:"replyToken"`
}
