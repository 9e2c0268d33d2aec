package gateway

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// Operation names accepted on the socket. Ping is the liveness probe
// and bypasses admission control.
const (
	OpConnect               = "connect"
	OpDisconnect            = "disconnect"
	OpPing                  = "ping"
	OpPushData              = "pushData"
	OpAckData               = "ackData"
	OpAddPair               = "addPair"
	OpRemovePair            = "removePair"
	OpSetPairPermission     = "setPairPermission"
	OpGetPairs              = "getPairs"
	OpGetOnlinePairs        = "getOnlinePairs"
	OpCreateGroup           = "createGroup"
	OpJoinGroup             = "joinGroup"
	OpLeaveGroup            = "leaveGroup"
	OpSetGroupPermission    = "setGroupPermission"
	OpGetProfile            = "getProfile"
	OpSetProfile            = "setProfile"
	OpSetDefaultPermissions = "setDefaultPermissions"
)

// ClientFrame is one request from the client. ID correlates the reply;
// an empty ID means fire-and-forget.
type ClientFrame struct {
	Op   string          `json:"op"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is anything the server sends: replies (ReplyTo set) and
// pushed notifications (Kind set).
type ServerFrame struct {
	Kind    string      `json:"kind,omitempty"`
	ReplyTo string      `json:"replyTo,omitempty"`
	Data    any         `json:"data,omitempty"`
	Error   *FrameError `json:"error,omitempty"`
}

type FrameError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func ParseClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "gateway: bad frame")
	}
	if f.Op == "" {
		return nil, errors.New("gateway: frame without op")
	}
	return &f, nil
}

func replyFrame(id string, data any) *ServerFrame {
	return &ServerFrame{ReplyTo: id, Data: data}
}

func errorFrame(id string, err error) *ServerFrame {
	frame := &ServerFrame{ReplyTo: id}
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		frame.Error = &FrameError{Code: ce.Code, Msg: ce.Error()}
	} else {
		frame.Error = &FrameError{Code: errs.CodeInternal, Msg: "internal error"}
	}
	return frame
}

func notificationFrame(kind string, payload any) *ServerFrame {
	return &ServerFrame{Kind: kind, Data: payload}
}
