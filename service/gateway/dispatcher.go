package gateway

import (
	"context"
	"encoding/json"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/sync"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/service/admission"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// HandlerFunc executes one operation for an authenticated client.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

// Dispatcher routes client frames to handlers, with every non-exempt
// op wrapped in admission control.
type Dispatcher struct {
	guard    *admission.Guard
	handlers map[string]HandlerFunc
}

func NewDispatcher(guard *admission.Guard, svc *sync.Service) *Dispatcher {
	d := &Dispatcher{guard: guard, handlers: make(map[string]HandlerFunc)}
	d.register(svc)
	return d
}

func (d *Dispatcher) register(svc *sync.Service) {
	d.handlers[OpPing] = func(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
		if err := svc.RefreshPresence(ctx, c.User.UID); err != nil {
			logger.Warnf("[gateway] refresh presence %s: %v", c.User.UID, err)
		}
		return "pong", nil
	}

	d.handlers[OpPushData] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req sync.PushRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return svc.PushData(ctx, c.User, req)
	}
	d.handlers[OpAckData] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req sync.AckRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.AckData(ctx, c.User, req)
	}

	d.handlers[OpAddPair] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			User string `json:"user"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.AddPair(ctx, c.User, req.User)
	}
	d.handlers[OpRemovePair] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			User string `json:"user"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.RemovePair(ctx, c.User, req.User)
	}
	d.handlers[OpSetPairPermission] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			User        string            `json:"user"`
			Permissions model.Permissions `json:"permissions"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetPairPermission(ctx, c.User, req.User, req.Permissions)
	}
	d.handlers[OpGetPairs] = func(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
		return svc.GetPairs(ctx, c.User)
	}
	d.handlers[OpGetOnlinePairs] = func(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
		return svc.GetOnlinePairs(ctx, c.User)
	}

	d.handlers[OpCreateGroup] = func(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
		return svc.CreateGroup(ctx, c.User)
	}
	d.handlers[OpJoinGroup] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			GID string `json:"gid"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.JoinGroup(ctx, c.User, req.GID)
	}
	d.handlers[OpLeaveGroup] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			GID string `json:"gid"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.LeaveGroup(ctx, c.User, req.GID)
	}
	d.handlers[OpSetGroupPermission] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			GID         string                  `json:"gid"`
			Permissions sync.GroupPermissionDTO `json:"permissions"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetGroupPermission(ctx, c.User, req.GID, req.Permissions)
	}

	d.handlers[OpGetProfile] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			User string `json:"user"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return svc.GetProfile(ctx, c.User, req.User)
	}
	d.handlers[OpSetProfile] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req struct {
			Description string `json:"description"`
			IsNSFW      bool   `json:"isNSFW"`
		}
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetProfile(ctx, c.User, req.Description, req.IsNSFW)
	}
	d.handlers[OpSetDefaultPermissions] = func(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
		var req model.DefaultPermissions
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetDefaultPermissions(ctx, c.User, req)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errs.ErrDataRejected.WithDetail("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.ErrDataRejected.WithDetail("malformed payload")
	}
	return nil
}

// Dispatch runs one frame and writes the reply back to the client.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, frame *ClientFrame) {
	h, ok := d.handlers[frame.Op]
	if !ok {
		logger.Infof("[gateway] %s: unknown op %q", c.User.UID, frame.Op)
		c.Send(errorFrame(frame.ID, errs.ErrNotAllowed.WithDetail("unknown op "+frame.Op)))
		return
	}

	var result any
	err := d.guard.Do(ctx, c.Closed(), frame.Op, func(ctx context.Context) error {
		var herr error
		result, herr = h(ctx, c, frame.Data)
		return herr
	})
	if err != nil {
		c.Send(errorFrame(frame.ID, err))
		return
	}
	if frame.ID != "" {
		c.Send(replyFrame(frame.ID, result))
	}
}
