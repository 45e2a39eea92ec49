package analytics

import (
	"context"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/pubsub"
	"github.com/Anvisninger/signup-flow/pkg/wizard"
)

// Config configures a Tracker.
type Config struct {
	// TrackPurchase turns purchase events on.
	TrackPurchase bool
	Options       Options
	Timeout       time.Duration
	Logger        logging.Logger
}

// Tracker sends a purchase event for every completed paid signup.
type Tracker struct {
	cfg    Config
	sink   Sink
	logger logging.Logger
	now    func() time.Time
}

// NewTracker creates a tracker that delivers to sink.
func NewTracker(cfg Config, sink Sink) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Tracker{
		cfg:    cfg,
		sink:   sink,
		logger: logging.OrNop(cfg.Logger),
		now:    time.Now,
	}
}

// Start subscribes the tracker to completed signups. With tracking off it
// returns a nil subscription.
func (t *Tracker) Start(ps pubsub.PubSub) (pubsub.Subscription, error) {
	if !t.cfg.TrackPurchase {
		return nil, nil
	}
	return pubsub.SubscribeJSON(ps, wizard.TopicCompleted, t.logger, t.Handle)
}

// Handle builds and sends the purchase for one completion.
func (t *Tracker) Handle(done wizard.Completion) {
	if !t.cfg.TrackPurchase {
		return
	}
	ev, ok := Purchase(done.Plan, t.cfg.Options, t.now())
	if !ok {
		t.logger.Debug("completion without paid plan", logging.String("plan_uid", done.PlanUID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
	defer cancel()

	if err := t.sink.Send(ctx, ev); err != nil {
		t.logger.Warn("purchase event failed",
			logging.String("transaction_id", ev.Ecommerce.TransactionID),
			logging.Err(err),
		)
	}
}
