package notifications

import (
	"context"
	"errors"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
)

// LogRunner writes every published event to the log
type LogRunner struct {
	bus *Bus
	log interfaces.ILogger
}

func NewLogRunner(bus *Bus, log interfaces.ILogger) *LogRunner {
	return &LogRunner{bus: bus, log: log}
}

func (r *LogRunner) Run(ctx context.Context) error {
	sub := r.bus.Subscribe()
	defer func() { r.bus.Unsubscribe(sub) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Events():
			if ok {
				r.log.Infow("event", append([]interface{}{"seq", env.Seq, "id", env.ID}, Fields(env.Event)...)...)
				continue
			}
			if !errors.Is(sub.Err(), ErrSubscriberLagged) {
				return nil
			}
			r.log.Warnf("event log fell behind, continuing from %d: %s", r.bus.LastSeq()+1, sub.Err())
			sub = r.bus.Subscribe()
		}
	}
}

// Fields returns the event as structured log key-value pairs
func Fields(e rental.Event) []interface{} {
	fields := []interface{}{"type", string(e.Type()), "listing", e.ListingKey().String()}

	switch ev := e.(type) {
	case rental.ListingCreated:
		fields = append(fields, "owner", ev.Owner.Hex(), "token", ev.PaymentToken.Hex(),
			"rate", ev.RatePerMinute.String(), "maxMinutes", ev.MaxRentalMinutes, "strictFinish", ev.StrictFinish)
	case rental.RentalCreated:
		fields = append(fields, "renter", ev.Renter.Hex(), "expiresAt", ev.ExpiresAt)
	case rental.RentalFinished:
		fields = append(fields, "renter", ev.Renter.Hex(), "early", ev.Settlement.Early,
			"refund", ev.Settlement.Refund.String(), "owner", ev.Settlement.PaidToOwner.String(),
			"protocol", ev.Settlement.RetainedByProtocol.String())
	}
	return fields
}

var _ interfaces.Runnable = (*LogRunner)(nil)
