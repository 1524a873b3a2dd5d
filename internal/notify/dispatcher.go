package notify

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/ids"
	"sysaccess.org/internal/obs"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	ID        string    `json:"id"`
	Template  string    `json:"template"`
	RequestID string    `json:"request_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink hands messages to the outside world (mail relay, outbox topic, log).
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// Notifier sends a templated message. It never reports failure to the caller.
type Notifier interface {
	Send(ctx context.Context, templateKey string, recipients []string, fields map[string]string)
}

type job struct {
	notice     access.Notice
	recipients []string
}

// Dispatcher renders and delivers notifications from a background worker.
// It implements Notifier and access.Announcer.
type Dispatcher struct {
	sink     Sink
	settings Settings
	dir      access.Directory
	from     string
	ictEmail string
	now      func() time.Time
	queue    chan job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSettings sets the template and address source.
func WithSettings(s Settings) Option { return func(d *Dispatcher) { d.settings = s } }

// WithDirectory sets where reviewer pools are looked up.
func WithDirectory(dir access.Directory) Option { return func(d *Dispatcher) { d.dir = dir } }

// WithFrom sets the sender used when the system_email setting is absent.
func WithFrom(addr string) Option { return func(d *Dispatcher) { d.from = strings.TrimSpace(addr) } }

// WithICTEmail sets the ICT pool address used when the ict_email setting is absent.
func WithICTEmail(addr string) Option {
	return func(d *Dispatcher) { d.ictEmail = strings.TrimSpace(addr) }
}

// WithQueueSize sets the number of pending notifications held before dropping.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// NewDispatcher starts a dispatcher delivering to sink.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:  sink,
		now:   time.Now,
		queue: make(chan job, 256),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Send enqueues a message to explicit recipients.
func (d *Dispatcher) Send(ctx context.Context, templateKey string, recipients []string, fields map[string]string) {
	d.enqueue(job{
		notice:     access.Notice{Template: templateKey, Fields: fields},
		recipients: append([]string{}, recipients...),
	})
}

// Announce enqueues a notice whose audience is resolved by the worker.
func (d *Dispatcher) Announce(ctx context.Context, n access.Notice) {
	d.enqueue(job{notice: n})
}

func (d *Dispatcher) enqueue(j job) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		obs.ObserveNotification(j.notice.Template, "dropped")
		return
	}
	select {
	case d.queue <- j:
	default:
		obs.ObserveNotification(j.notice.Template, "dropped")
		obs.Logger().Warn("notification queue full, message dropped", "template", j.notice.Template)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := obs.Logger().With("template", j.notice.Template, "request_id", j.notice.RequestID)

	recipients := j.recipients
	if recipients == nil {
		var err error
		recipients, err = d.resolve(ctx, j.notice.Audience)
		if err != nil {
			obs.ObserveNotification(j.notice.Template, "failed")
			log.Error("resolve recipients failed", "audience", j.notice.Audience.Kind, "error", err)
			return
		}
	}
	recipients = cleanAddresses(recipients)
	if len(recipients) == 0 {
		obs.ObserveNotification(j.notice.Template, "skipped")
		log.Warn("notification has no recipients", "audience", j.notice.Audience.Kind)
		return
	}

	tmpl, err := Lookup(ctx, d.settings, j.notice.Template)
	if err != nil {
		log.Warn("template lookup failed, using default", "error", err)
	}
	subject, body := tmpl.Render(j.notice.Fields)
	msg := Message{
		ID:        ids.New(),
		Template:  j.notice.Template,
		RequestID: j.notice.RequestID,
		From:      d.sender(ctx),
		To:        recipients,
		Subject:   subject,
		Body:      body,
		CreatedAt: d.now().UTC(),
	}
	if err := d.sink.Deliver(ctx, msg); err != nil {
		obs.ObserveNotification(j.notice.Template, "failed")
		log.Error("notification delivery failed", "error", err)
		return
	}
	obs.ObserveNotification(j.notice.Template, "sent")
}

func (d *Dispatcher) resolve(ctx context.Context, a access.Audience) ([]string, error) {
	switch a.Kind {
	case access.AudienceRequester:
		return []string{a.Email}, nil
	case access.AudienceICT:
		if v := d.setting(ctx, SettingICTEmail); v != "" {
			return strings.Split(v, ","), nil
		}
		if d.ictEmail != "" {
			return strings.Split(d.ictEmail, ","), nil
		}
		return d.reviewers(ctx, access.RoleICT, []string{""})
	case access.AudienceSysAdmins:
		return d.reviewers(ctx, access.RoleSysAdmin, a.Systems)
	}
	return nil, errors.New("unknown audience " + string(a.Kind))
}

func (d *Dispatcher) reviewers(ctx context.Context, role access.Role, systems []string) ([]string, error) {
	if d.dir == nil {
		return nil, errors.New("no directory configured")
	}
	var out []string
	for _, sys := range systems {
		users, err := d.dir.Reviewers(ctx, role, sys)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, u.Email)
		}
	}
	return out, nil
}

func (d *Dispatcher) sender(ctx context.Context) string {
	if v := d.setting(ctx, SettingSystemEmail); v != "" {
		return v
	}
	return d.from
}

func (d *Dispatcher) setting(ctx context.Context, key string) string {
	if d.settings == nil {
		return ""
	}
	v, ok, err := d.settings.Setting(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cleanAddresses(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
