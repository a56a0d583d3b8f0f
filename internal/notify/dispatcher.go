package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/metrics"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type DispatcherConfig struct {
	Company       string
	OperatorEmail string
	Timeout       time.Duration
}

// Dispatcher renders events and hands them to a Sender on a goroutine of
// their own. Send failures are logged and counted, nothing else.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		log:    log.With().Str("component", "notify").Logger(),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if ev.Recipient.Operator {
		ev.Recipient.Email = d.cfg.OperatorEmail
	}
	if ev.Recipient.Email == "" {
		d.log.Debug().Str("kind", string(ev.Kind)).Msg("notification without recipient address dropped")
		metrics.IncNotification(string(ev.Kind), "skipped")
		return
	}

	msg := Render(ev, d.cfg.Company)

	// The request that triggered the event may end before delivery does.
	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(sendCtx, d.cfg.Timeout)
		defer cancel()

		if err := d.sender.Send(ctx, msg); err != nil {
			d.log.Error().Err(err).
				Str("kind", string(ev.Kind)).
				Str("appointment_id", ev.AppointmentID).
				Str("to", msg.To).
				Msg("notification delivery failed")
			metrics.IncNotification(string(ev.Kind), "failed")
			return
		}
		metrics.IncNotification(string(ev.Kind), "sent")
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
