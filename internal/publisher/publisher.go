package publisher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"station-alerts/internal/logging"
	"station-alerts/internal/models"
	"station-alerts/internal/utils"
)

var (
	// ErrNotConnected is returned when no broker connection became available
	// before the publish deadline.
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("publisher closed")
)

// Config holds broker connection settings.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	TLS       *tls.Config
	QoS       byte
	KeepAlive time.Duration

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	ConnectRetries int

	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

// Publisher owns the single broker connection. Connect, publish and
// reconnect attempts are serialized; a dropped connection is recovered by a
// background loop, never from inside the client callbacks.
type Publisher struct {
	cfg    Config
	logger *logging.Logger

	// sem is held while a connect attempt or a publish is in progress.
	sem chan struct{}

	mu        sync.Mutex
	state     State
	client    *paho.Client
	gen       uint64
	ready     chan struct{}
	listeners []func(from, to State)

	reconnects atomic.Int64
	drops      chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithStateListener registers fn to be called after every state change.
// fn must not block.
func WithStateListener(fn func(from, to State)) Option {
	return func(p *Publisher) {
		p.listeners = append(p.listeners, fn)
	}
}

func New(cfg Config, logger *logging.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "station-alerts-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		cfg:    cfg,
		logger: logger.Component("publisher").With(logrus.Fields{"client_id": cfg.ClientID}),
		sem:    make(chan struct{}, 1),
		state:  Disconnected,
		ready:  make(chan struct{}),
		drops:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reconnects counts connections recovered after a drop or a Reconnect call.
func (p *Publisher) Reconnects() int64 {
	return p.reconnects.Load()
}

// Connect establishes the initial connection, retrying up to ConnectRetries
// times, and starts the recovery loop. When the retries run out the error is
// returned but the recovery loop keeps trying in the background, so callers
// may treat it as a warning.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	switch p.State() {
	case Closed:
		return ErrClosed
	case Connected:
		return nil
	}

	p.transition(Connecting)
	err := p.backoff(p.cfg.ConnectRetries).Do(ctx, p.connectOnce)
	if err != nil {
		p.transition(Disconnected)
		if p.startMaintain() {
			p.logger.Warnf("Initial connect failed, retrying in background: %v", err)
			p.wake()
		}
		return fmt.Errorf("connect to %s: %w", p.address(), err)
	}

	p.startMaintain()
	return nil
}

// Reconnect drops the current connection, if any, and connects again.
func (p *Publisher) Reconnect(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return ErrClosed
	}
	old := p.client
	p.client = nil
	p.gen++
	p.mu.Unlock()
	if old != nil {
		_ = old.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}

	p.transition(Reconnecting)
	if err := p.backoff(p.cfg.ConnectRetries).Do(ctx, p.connectOnce); err != nil {
		p.transition(Disconnected)
		if p.startMaintain() {
			p.wake()
		}
		return fmt.Errorf("reconnect to %s: %w", p.address(), err)
	}
	p.reconnects.Add(1)
	return nil
}

// Publish sends one alert. It waits for a live connection until the publish
// timeout and never retries a message that was handed to the transport.
func (p *Publisher) Publish(ctx context.Context, alert models.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	client, err := p.connected(ctx)
	if err != nil {
		return err
	}
	defer p.release()

	p.logger.WithField("topic", alert.Topic).Infof("sending alert to %s", alert.Topic)
	resp, err := client.Publish(ctx, &paho.Publish{
		QoS:     p.cfg.QoS,
		Topic:   alert.Topic,
		Payload: []byte(alert.Message),
		Properties: &paho.PublishProperties{
			ContentType: "text/plain",
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", alert.Topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("publish to %s: broker rejected with reason %#x", alert.Topic, resp.ReasonCode)
	}
	return nil
}

// Disconnect stops the recovery loop and closes the connection. In-flight
// publishes finish first.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return
	}
	// Cancelled under mu so startMaintain never adds to wg after Wait.
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()

	p.sem <- struct{}{}
	defer p.release()

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.gen++
	p.mu.Unlock()
	p.transition(Closed)

	if client != nil {
		if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			p.logger.Warnf("Error while disconnecting: %v", err)
		}
	}
	p.logger.Info("Publisher closed")
}

// connected waits until a connection is up and returns its client with the
// semaphore held.
func (p *Publisher) connected(ctx context.Context) (*paho.Client, error) {
	for {
		p.mu.Lock()
		state, ready := p.state, p.ready
		p.mu.Unlock()

		switch state {
		case Closed:
			return nil, ErrClosed
		case Connected:
			if err := p.acquire(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
			}
			p.mu.Lock()
			client, state := p.client, p.state
			p.mu.Unlock()
			if state == Connected && client != nil {
				return client, nil
			}
			p.release()
			continue
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, state)
		}
	}
}

// connectOnce dials and performs the MQTT handshake. Callers hold sem.
func (p *Publisher) connectOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.address(), err)
	}

	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		_ = conn.Close()
		return utils.Permanent(ErrClosed)
	}
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	client := paho.NewClient(paho.ClientConfig{
		Conn:     packets.NewThreadSafeConn(conn),
		ClientID: p.cfg.ClientID,
		OnClientError: func(err error) {
			p.dropped(gen, fmt.Sprintf("client error: %v", err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.dropped(gen, fmt.Sprintf("server disconnect, reason %#x", d.ReasonCode))
		},
	})

	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:     p.cfg.ClientID,
		CleanStart:   true,
		KeepAlive:    uint16(p.cfg.KeepAlive.Seconds()),
		Username:     p.cfg.Username,
		UsernameFlag: p.cfg.Username != "",
		Password:     []byte(p.cfg.Password),
		PasswordFlag: p.cfg.Password != "",
	})
	if err != nil {
		_ = conn.Close()
		if ca != nil {
			return fmt.Errorf("broker refused connection with reason %#x: %w", ca.ReasonCode, err)
		}
		return err
	}

	p.mu.Lock()
	if p.gen != gen || p.state == Closed {
		p.mu.Unlock()
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return utils.Permanent(ErrClosed)
	}
	p.client = client
	from := p.setLocked(Connected)
	p.mu.Unlock()
	p.observe(from, Connected)
	return nil
}

// dropped runs on the client's callback goroutine. It only records the drop
// and wakes the recovery loop.
func (p *Publisher) dropped(gen uint64, reason string) {
	p.mu.Lock()
	if gen != p.gen || p.state != Connected {
		p.mu.Unlock()
		return
	}
	p.client = nil
	from := p.setLocked(Disconnected)
	p.mu.Unlock()

	p.logger.WithField("reason", reason).Warn("Disconnected from MQTT broker")
	p.observe(from, Disconnected)
	p.wake()
}

// startMaintain starts the recovery loop once. It reports false after
// Disconnect.
func (p *Publisher) startMaintain() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Closed || p.ctx.Err() != nil {
		return false
	}
	p.loopOnce.Do(func() {
		p.wg.Add(1)
		go p.maintain()
	})
	return true
}

// wake asks the recovery loop for another round.
func (p *Publisher) wake() {
	select {
	case p.drops <- struct{}{}:
	default:
	}
}

// maintain reconnects after every drop until Disconnect.
func (p *Publisher) maintain() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.drops:
		}

		b := p.backoff(0)
		err := b.Do(p.ctx, func(ctx context.Context) error {
			if err := p.acquire(ctx); err != nil {
				return utils.Permanent(err)
			}
			defer p.release()

			switch p.State() {
			case Connected:
				return nil
			case Closed:
				return utils.Permanent(ErrClosed)
			}
			p.transition(Reconnecting)
			return p.connectOnce(ctx)
		})
		if err != nil {
			p.logger.Warnf("Giving up reconnect: %v", err)
			continue
		}
		p.reconnects.Add(1)
	}
}

func (p *Publisher) transition(to State) {
	p.mu.Lock()
	from := p.setLocked(to)
	p.mu.Unlock()
	p.observe(from, to)
}

// setLocked updates state and the ready channel. Callers hold mu.
func (p *Publisher) setLocked(to State) State {
	from := p.state
	p.state = to
	switch {
	case to.ready() && !from.ready():
		close(p.ready)
	case !to.ready() && from.ready():
		p.ready = make(chan struct{})
	}
	return from
}

func (p *Publisher) observe(from, to State) {
	if from == to {
		return
	}
	switch {
	case to == Connected && from == Reconnecting:
		p.logger.Infof("Reconnected to MQTT broker %s", p.address())
	case to == Connected:
		p.logger.Infof("Connected to MQTT broker %s", p.address())
	case to == Reconnecting:
		p.logger.Info("Reconnecting to MQTT broker")
	}
	for _, fn := range p.listeners {
		fn(from, to)
	}
}

func (p *Publisher) backoff(attempts int) utils.Backoff {
	return utils.Backoff{
		MaxAttempts: attempts,
		MinDelay:    p.cfg.ReconnectMinDelay,
		MaxDelay:    p.cfg.ReconnectMaxDelay,
		Logger:      p.logger,
	}
}

func (p *Publisher) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) release() {
	<-p.sem
}

func (p *Publisher) address() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

func (p *Publisher) dial(ctx context.Context) (net.Conn, error) {
	if p.cfg.TLS != nil {
		d := tls.Dialer{Config: p.cfg.TLS}
		return d.DialContext(ctx, "tcp", p.address())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", p.address())
}
