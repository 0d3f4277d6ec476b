// Package notifications publishes a message for every closed behavior event.
//
// Publishing involves network IO, so it happens on a background thread. The frame loop
// only ever enqueues. Failed messages stay in the queue and are retried with exponential
// backoff. If the queue grows beyond MaxQueueSize, the oldest messages are dropped.
package notifications

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/behave/pkg/gen"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/logs"
)

// Publisher delivers one message to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type Settings struct {
	Topics       map[string]string `json:"topics"`       // Behavior label to topic, eg "Drinking" -> "pigs/drinking"
	DefaultTopic string            `json:"defaultTopic"` // Used when a behavior has no entry in Topics
	MaxQueueSize int               `json:"maxQueueSize"`
	MinPause     time.Duration     `json:"-"` // Shortest retry interval after a failure
	MaxPause     time.Duration     `json:"-"` // Longest retry interval after a failure
}

func DefaultSettings() Settings {
	return Settings{
		DefaultTopic: "behave/event",
		MaxQueueSize: 100,
		MinPause:     time.Second,
		MaxPause:     30 * time.Second,
	}
}

// Notification is one queued message
type Notification struct {
	Topic   string
	Payload []byte
	Created time.Time
}

// Notifier is responsible for publishing a message whenever a behavior event closes.
type Notifier struct {
	log       logs.Log
	publisher Publisher
	settings  Settings
	newEvent  chan Notification
	shutdown  chan bool
	closed    chan bool // Closed when the transmit thread exits
	closeOnce sync.Once

	numSent    atomic.Int64
	numDropped atomic.Int64
	numFailed  atomic.Int64 // Number of failed publish attempts
}

func NewNotifier(logger logs.Log, publisher Publisher, settings Settings) *Notifier {
	if settings.MaxQueueSize <= 0 {
		settings.MaxQueueSize = 100
	}
	if settings.MinPause <= 0 {
		settings.MinPause = time.Second
	}
	if settings.MaxPause < settings.MinPause {
		settings.MaxPause = settings.MinPause
	}
	n := &Notifier{
		log:       logs.NewPrefixLogger(logger, "Notifier"),
		publisher: publisher,
		settings:  settings,
		newEvent:  make(chan Notification, settings.MaxQueueSize),
		shutdown:  make(chan bool),
		closed:    make(chan bool),
	}
	go n.transmitThread()
	return n
}

// Topic returns the topic for the given behavior label
func (n *Notifier) Topic(behavior string) string {
	if t, ok := n.settings.Topics[behavior]; ok {
		return t
	}
	return n.settings.DefaultTopic
}

// Notify queues a notification for the event. The payload is the behavior label.
// Notify never blocks.
func (n *Notifier) Notify(ev *segmenter.Event) {
	msg := Notification{
		Topic:   n.Topic(ev.Behavior),
		Payload: []byte(ev.Behavior),
		Created: time.Now(),
	}
	if !gen.TrySend(n.newEvent, msg) {
		n.numDropped.Add(1)
		n.log.Warnf("Notifier queue is full, dropping %v notification", ev.Behavior)
	}
}

// Close makes one last attempt to publish all queued notifications, and then stops the transmit thread.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.shutdown)
		<-n.closed
	})
}

// Number of notifications that were successfully published
func (n *Notifier) NumSent() int64 {
	return n.numSent.Load()
}

// Number of notifications that were dropped, because the queue was full
func (n *Notifier) NumDropped() int64 {
	return n.numDropped.Load()
}

func (n *Notifier) NumFailed() int64 {
	return n.numFailed.Load()
}

func (n *Notifier) transmitThread() {
	minPause := n.settings.MinPause
	maxPause := n.settings.MaxPause
	pause := maxPause
	queue := []Notification{}
	for {
		select {
		case msg := <-n.newEvent:
			if len(queue) >= n.settings.MaxQueueSize {
				// Drop old messages
				drop := len(queue) - n.settings.MaxQueueSize + 1
				n.log.Warnf("Dropping %v old messages from notifier queue, size: %v", drop, len(queue))
				n.numDropped.Add(int64(drop))
				queue = queue[drop:]
			}
			queue = append(queue, msg)
			pause = 0
		case <-time.After(pause):
			if len(queue) != 0 {
				queue = n.transmitQueue(queue)
			}
			if len(queue) == 0 {
				// Queue was cleared, so we can pause until receiving a new event
				pause = maxPause
			} else {
				// Queue was not cleared, so we start backing off
				pause = gen.Clamp(pause*2, minPause, maxPause)
			}
		case <-n.shutdown:
			queue = append(queue, gen.DrainChannelIntoSlice(n.newEvent)...)
			if len(queue) != 0 {
				queue = n.transmitQueue(queue)
			}
			if len(queue) != 0 {
				n.log.Warnf("Discarding %v unsent notifications", len(queue))
			}
			close(n.closed)
			return
		}
	}
}

// Returns the list of notifications that still need to be sent.
func (n *Notifier) transmitQueue(queue []Notification) []Notification {
	for i, msg := range queue {
		if err := n.publisher.Publish(msg.Topic, msg.Payload); err != nil {
			n.numFailed.Add(1)
			n.log.Errorf("Failed to publish to %v: %v", msg.Topic, err)
			return queue[i:]
		}
		n.numSent.Add(1)
	}
	return nil
}
