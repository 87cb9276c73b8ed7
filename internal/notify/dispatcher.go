package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher sends email synchronously or through a bounded pool of workers
// fed by a Queue.
type Dispatcher interface {
	Start(ctx context.Context) error
	Shutdown()
	// Deliver sends immediately and reports the mailer's result.
	Deliver(ctx context.Context, email Email) error
	// Enqueue hands the email to the workers; failures are only logged.
	Enqueue(ctx context.Context, email Email) error
}

type DispatcherConfig struct {
	Workers     int
	SendTimeout time.Duration
	Logger      *logrus.Logger
}

// errDispatcherStopping tells the queue an email was not taken by a worker.
var errDispatcherStopping = errors.New("dispatcher stopping")

type dispatcher struct {
	cfg    DispatcherConfig
	mailer Mailer
	queue  Queue

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, mailer Mailer, queue Queue) Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &dispatcher{
		cfg:    cfg,
		mailer: mailer,
		queue:  queue,
		sem:    make(chan struct{}, cfg.Workers),
	}
}

func (d *dispatcher) Start(ctx context.Context) error {
	if d.cancel != nil {
		return errors.New("dispatcher already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		if err := d.queue.Consume(d.ctx, d.spawn); err != nil {
			d.cfg.Logger.Errorf("mail queue consumer stopped: %v", err)
		}
	}()

	d.cfg.Logger.Infof("mail dispatcher started with %d workers", d.cfg.Workers)
	return nil
}

func (d *dispatcher) Shutdown() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	d.wg.Wait()
	if err := d.queue.Close(); err != nil {
		d.cfg.Logger.Warnf("close mail queue: %v", err)
	}
	d.cfg.Logger.Info("mail dispatcher stopped")
}

func (d *dispatcher) Deliver(ctx context.Context, email Email) error {
	return d.send(ctx, email)
}

func (d *dispatcher) Enqueue(ctx context.Context, email Email) error {
	if len(email.To) == 0 {
		return ErrNoRecipients
	}
	if err := d.queue.Publish(ctx, email); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// spawn blocks until a worker slot frees up, which throttles the consumer.
func (d *dispatcher) spawn(email Email) error {
	if d.ctx.Err() == nil {
		select {
		case <-d.ctx.Done():
		case d.sem <- struct{}{}:
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				// in-flight sends finish even when shutdown has begun
				if err := d.send(context.WithoutCancel(d.ctx), email); err != nil {
					d.cfg.Logger.WithField("to", strings.Join(email.To, ",")).Errorf("queued email failed: %v", err)
				}
			}()
			return nil
		}
	}
	d.cfg.Logger.WithField("to", strings.Join(email.To, ",")).Warn("dispatcher stopping, email not taken")
	return errDispatcherStopping
}

func (d *dispatcher) send(ctx context.Context, email Email) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.mailer.Send(ctx, email)
}
