package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"faculty-status-backend/internal/model"
)

// ErrQueueFull is returned by WorkerPool.Notify when the event was dropped.
var ErrQueueFull = errors.New("notification: push queue is full")

// NotificationSender sends one web push message.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through webpush-go.
type WebPushSender struct{}

// Send implements NotificationSender.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// pushPayload is what the service worker receives.
type pushPayload struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	CabinID string `json:"cabinId"`
}

// WorkerPool delivers events as web push messages to every browser that
// registered a push subscription for the event's session.
type WorkerPool struct {
	size    int
	jobs    chan Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

var _ Notifier = (*WorkerPool)(nil)

// NewWorkerPool creates a pool of size workers.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Push worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.sendForSession(ctx, ev)
		case <-ctx.Done():
			log.Printf("Push worker %d shutting down", id)
			return
		}
	}
}

// Notify queues ev for delivery. It never blocks: when the queue is full
// the event is dropped and ErrQueueFull returned.
func (wp *WorkerPool) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case wp.jobs <- ev:
		return nil
	default:
		log.Printf("Push queue full, dropping notification for session %s", ev.SessionID)
		return ErrQueueFull
	}
}

// Jobs exposes the queue to tests.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) sendForSession(ctx context.Context, ev Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("session_id = ?", ev.SessionID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching push subscriptions for session %s: %v", ev.SessionID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{Title: ev.Title, Body: ev.Body, CabinID: ev.CabinID})
	if err != nil {
		log.Printf("Error encoding push payload for %s: %v", ev.CabinID, err)
		return
	}

	log.Printf("Sending %d push notifications for cabin %s", len(subscriptions), ev.CabinID)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending push notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Push subscription %s has expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired push subscription %s: %v", sub.Endpoint, err)
		}
	}
}
