// Package cluster carries room broadcasts between relay processes.
package cluster

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Delivery is one broadcast as it travels between processes.
type Delivery struct {
	Room    string          `json:"room,omitempty"`
	User    string          `json:"user,omitempty"`
	All     bool            `json:"all,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Origin  string          `json:"origin"`
}

func (d Delivery) Validate() error {
	if d.Event == "" {
		return errors.New("delivery has no event")
	}
	if d.Room == "" && d.User == "" && !d.All {
		return errors.New("delivery has no target")
	}
	return nil
}

type Config struct {
	URL     string
	Subject string
	NodeID  string
}

// NATSBus publishes deliveries on <subject>.deliver. Every process, the
// publisher included, receives them and fans out to its own connections.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	log     *zap.Logger
}

func NewNATSBus(cfg Config, log *zap.Logger) (*NATSBus, error) {
	log = log.Named("bus")
	opts := []nats.Option{
		nats.Name("vaani-relay-" + cfg.NodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", cfg.URL)
	}

	return &NATSBus{
		conn:    conn,
		subject: cfg.Subject + ".deliver",
		nodeID:  cfg.NodeID,
		log:     log,
	}, nil
}

func (b *NATSBus) Publish(d Delivery) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Origin = b.nodeID

	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode delivery")
	}
	return errors.Wrap(b.conn.Publish(b.subject, data), "publish delivery")
}

// Subscribe hands every valid delivery to handler, one at a time and in
// publish order per publisher.
func (b *NATSBus) Subscribe(handler func(Delivery)) error {
	_, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		d, err := Decode(msg.Data)
		if err != nil {
			b.log.Warn("dropping malformed delivery", zap.Error(err))
			return
		}
		handler(d)
	})
	return errors.Wrapf(err, "subscribe %s", b.subject)
}

func (b *NATSBus) Connected() bool {
	return b.conn.IsConnected()
}

func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

func Decode(data []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return Delivery{}, errors.Wrap(err, "decode delivery")
	}
	return d, d.Validate()
}
