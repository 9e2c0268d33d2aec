package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// SubjectForUser is the per-user fan-in subject. Every gateway node
// subscribes for its locally connected users, so a publish reaches the
// user no matter which node holds the connection.
func SubjectForUser(uid string) string { return "sync.user." + uid }

// NatsNotifier publishes notification envelopes over core NATS.
type NatsNotifier struct {
	nc *nats.Conn
}

func NewNatsNotifier(url string, opts ...nats.Option) (*NatsNotifier, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "notify: connect nats")
	}
	return &NatsNotifier{nc: nc}, nil
}

// WrapConn reuses an existing connection (shared with the gateway
// subscriber side).
func WrapConn(nc *nats.Conn) *NatsNotifier { return &NatsNotifier{nc: nc} }

func (n *NatsNotifier) Send(_ context.Context, toUID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "notify: marshal")
	}
	msg := nats.NewMsg(SubjectForUser(toUID))
	msg.Data = data
	if err := n.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "notify: publish to %s", toUID)
	}
	return nil
}

func (n *NatsNotifier) Close() {
	if n.nc != nil {
		n.nc.Close()
	}
}
