package notify

import (
	"context"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
)

// Notification kinds pushed to connected clients. The gateway forwards
// these verbatim as server frames.
const (
	KindOnline           = "online"
	KindOffline          = "offline"
	KindPairAdded        = "pairAdded"
	KindPairRemoved      = "pairRemoved"
	KindPermissionUpdate = "permissionUpdate"
	KindGroupJoined      = "groupJoined"
	KindGroupLeft        = "groupLeft"
	KindData             = "data"
	KindAck              = "ack"
)

// Envelope is the wire shape on the per-user subject.
type Envelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// OnlinePayload announces a peer coming into sync range.
type OnlinePayload struct {
	User       model.UserRef `json:"user"`
	CharaIdent string        `json:"charaIdent,omitempty"`
}

// OfflinePayload announces a peer leaving sync range.
type OfflinePayload struct {
	User model.UserRef `json:"user"`
}

// PairPayload carries the aggregated relationship after a pair change.
type PairPayload struct {
	User             model.UserRef     `json:"user"`
	OwnPermissions   model.Permissions `json:"ownPermissions"`
	OtherPermissions model.Permissions `json:"otherPermissions"`
}

// PermissionPayload tells a peer that User changed what they apply
// towards the recipient.
type PermissionPayload struct {
	User        model.UserRef     `json:"user"`
	Permissions model.Permissions `json:"permissions"`
}

// GroupPayload signals a membership change in a shared group.
type GroupPayload struct {
	GID  string        `json:"gid"`
	User model.UserRef `json:"user"`
}

// DataPayload is one recipient's slice of a character data push.
type DataPayload struct {
	User      model.UserRef `json:"user"`
	SessionID string        `json:"sessionId"`
	DataHash  string        `json:"dataHash"`
	CharaData any           `json:"charaData"`
}

// AckPayload reports delivery progress back to the sender. Session
// acks carry the session id; fingerprint-only acks carry the data
// hash instead.
type AckPayload struct {
	SessionID   string        `json:"sessionId,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	User        model.UserRef `json:"user"`
	Complete    bool          `json:"complete"`
}

// Notifier delivers notifications to a user wherever they are
// connected. Delivery is best effort; an offline recipient is dropped
// silently.
type Notifier interface {
	Send(ctx context.Context, toUID string, env Envelope) error
	Close()
}
