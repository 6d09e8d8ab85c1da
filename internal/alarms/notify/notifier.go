package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	alarms "battmon-cloud/internal/alarms/domain"
)

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier sends raised alarms to a delivery channel. Sends happen on a
// background goroutine so callers never block on the webhook.
type Notifier struct {
	channel        Channel
	template       *Template
	minLevel       alarms.Level
	clock          Clock
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithMinLevel suppresses notifications below the given severity.
func WithMinLevel(level alarms.Level) Option {
	return func(n *Notifier) {
		n.minLevel = level
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the
// same equipment and level.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithRequestTimeout overrides the per-send timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		minLevel:       alarms.LevelInfo,
		clock:          systemClock{},
		requestTimeout: 5 * time.Second,
		sent:           make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// AlarmRaised renders and delivers the alarm. Delivery runs asynchronously.
func (n *Notifier) AlarmRaised(alarm alarms.Alarm) {
	if n == nil || n.channel == nil {
		return
	}
	if alarm.Level < n.minLevel {
		return
	}
	content, err := n.template.Render(TemplateData{
		Equipment: strconv.Itoa(alarm.EquipmentID),
		Level:     alarm.Level.String(),
		Message:   alarm.Message,
		Time:      alarm.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	key := notificationKey(alarm.EquipmentID, alarm.Level)
	if !n.shouldSend(key, content) {
		return
	}
	n.markSent(key, content)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
		defer cancel()
		_ = n.channel.Send(ctx, content)
	}()
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return
	}
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(equipment int, level alarms.Level) string {
	return strconv.Itoa(equipment) + "|" + level.String()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
