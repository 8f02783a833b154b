// Package statusfeed ingests faculty status reports published over MQTT
// and writes them to the realtime store.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/realtime"
)

// ErrInvalidReport is returned for payloads or topics that cannot be used.
var ErrInvalidReport = errors.New("statusfeed: invalid report")

// Report is the payload published for a cabin.
type Report struct {
	Status    model.Status `json:"status"`
	UpdatedAt string       `json:"updatedAt,omitempty"`
}

// Feed subscribes to the status topic and mirrors reports into the store.
type Feed struct {
	store realtime.Store
	cfg   config.StatusFeedConfig
	now   func() time.Time
}

// New creates a feed writing to store.
func New(store realtime.Store, cfg config.StatusFeedConfig) *Feed {
	return &Feed{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage validates one report and writes it to faculty/{cabinId}.
func (f *Feed) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	cabinID, ok := MatchTopic(f.cfg.Topic, topic)
	if !ok {
		return fmt.Errorf("%w: topic %q does not match %q", ErrInvalidReport, topic, f.cfg.Topic)
	}

	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidReport, r.Status)
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = f.now().Format(time.RFC3339)
	}

	status := model.FacultyStatus{Status: r.Status, UpdatedAt: r.UpdatedAt}
	if err := f.store.Set(ctx, realtime.Join(model.PathFaculty, cabinID), status); err != nil {
		return fmt.Errorf("store status of %s: %w", cabinID, err)
	}
	return nil
}

// Run connects to the broker and processes reports until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	opts := clientOptions(f.cfg, f.cfg.ClientID)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(f.cfg.Topic, f.cfg.QoS, f.onMessage(ctx))
		if token.Wait() && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", f.cfg.Topic, token.Error())
			return
		}
		log.Printf("Status feed subscribed to %s", f.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("Status feed connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", f.cfg.Broker, token.Error())
	}

	<-ctx.Done()
	log.Println("Status feed shutting down.")
	client.Disconnect(250)
	return nil
}

func (f *Feed) onMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := f.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			log.Printf("Dropping status report on %s: %v", msg.Topic(), err)
		}
	}
}

// MatchTopic matches topic against a pattern with one "+" wildcard and
// returns the segment in its place.
func MatchTopic(pattern, topic string) (string, bool) {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return "", false
	}
	var id string
	for i, p := range ps {
		switch {
		case p == "+":
			if ts[i] == "" || id != "" {
				return "", false
			}
			id = ts[i]
		case p != ts[i]:
			return "", false
		}
	}
	return id, id != ""
}

// TopicFor fills the "+" of pattern with cabinID.
func TopicFor(pattern, cabinID string) string {
	return strings.Replace(pattern, "+", cabinID, 1)
}

func clientOptions(cfg config.StatusFeedConfig, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts = opts.SetAutoReconnect(true).SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}
