package statusfeed

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/model"
)

// Publisher reports cabin statuses to the broker.
type Publisher struct {
	cfg    config.StatusFeedConfig
	client mqtt.Client
}

// Connect opens a publishing connection with its own client id.
func Connect(cfg config.StatusFeedConfig) (*Publisher, error) {
	client := mqtt.NewClient(clientOptions(cfg, cfg.ClientID+"-publisher"))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Publish sends status for cabinID, stamped with the current time.
func (p *Publisher) Publish(cabinID string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidReport, status)
	}
	data, err := json.Marshal(Report{Status: status, UpdatedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	token := p.client.Publish(TopicFor(p.cfg.Topic, cabinID), p.cfg.QoS, true, data)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
