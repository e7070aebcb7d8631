package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ghostethereum/ghostethereum/internal/alert"
	"github.com/ghostethereum/ghostethereum/internal/domain/event"
	"github.com/ghostethereum/ghostethereum/internal/domain/model"
	"github.com/ghostethereum/ghostethereum/internal/metrics"
	"github.com/ghostethereum/ghostethereum/internal/store"
	"github.com/ghostethereum/ghostethereum/internal/token"
)

// MembershipReconciler revokes the CMS membership bound to a removed
// subscription. It reports whether a live membership was removed.
type MembershipReconciler interface {
	ReconcileRemoval(ctx context.Context, sub *model.Subscription, owner *model.OwnerProfile) (bool, error)
}

// errMembership tags failures from the Ghost Admin API so batch-level
// alerting can separate them from storage failures.
var errMembership = errors.New("membership reconcile failed")

// Reconciler folds batches of chain events into the derived store. Events
// within a batch are applied one at a time in arrival order; a failing
// event is logged and counted but never blocks the rest of the batch.
type Reconciler struct {
	subscriptions store.SubscriptionRepository
	settlements   store.SettlementRepository
	owners        store.OwnerProfileRepository
	checkpoints   store.CheckpointRepository
	membership    MembershipReconciler
	registry      *token.Registry
	alerter       alert.Alerter
	contract      string
	logger        *slog.Logger
}

func New(
	subscriptions store.SubscriptionRepository,
	settlements store.SettlementRepository,
	owners store.OwnerProfileRepository,
	checkpoints store.CheckpointRepository,
	membership MembershipReconciler,
	registry *token.Registry,
	alerter alert.Alerter,
	contract string,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		subscriptions: subscriptions,
		settlements:   settlements,
		owners:        owners,
		checkpoints:   checkpoints,
		membership:    membership,
		registry:      registry,
		alerter:       alerter,
		contract:      contract,
		logger:        logger.With("component", "reconciler"),
	}
}

// Apply processes one batch. Nothing propagates upward: every event either
// lands in the store or is surfaced through logs and counters, and the
// checkpoint advances to the batch's highest block either way. Re-delivery
// after a restart is safe because every write is an idempotent upsert.
func (r *Reconciler) Apply(ctx context.Context, batch []event.ChainEvent) {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "reconciler.apply")
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ReconcilerBatchLatency.Observe(time.Since(start).Seconds())
	}()

	var maxHeight int64
	var failed, membershipFailed int
	var lastErr error
	for _, ev := range batch {
		if ev.BlockHeight > maxHeight {
			maxHeight = ev.BlockHeight
		}
		if err := r.applyEvent(ctx, ev); err != nil {
			failed++
			lastErr = err
			if errors.Is(err, errMembership) {
				membershipFailed++
			}
			metrics.ReconcilerApplyErrors.WithLabelValues(string(ev.Kind)).Inc()
			r.logger.Error("failed to apply event",
				"kind", ev.Kind,
				"subscription_id", ev.LogicalID,
				"tx_hash", ev.TxHash,
				"block_height", ev.BlockHeight,
				"error", err)
			continue
		}
		metrics.ReconcilerEventsApplied.WithLabelValues(string(ev.Kind)).Inc()
	}

	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d events failed", failed, len(batch)))
		r.alertFailures(ctx, batch, failed, membershipFailed, lastErr)
	}

	if maxHeight > 0 {
		if err := r.checkpoints.Advance(ctx, r.contract, maxHeight); err != nil {
			r.logger.Warn("failed to advance checkpoint",
				"contract", r.contract,
				"block_height", maxHeight,
				"error", err)
		}
	}
}

// alertFailures raises one alert per failed batch. Ghost API failures go out
// as MEMBERSHIP_ERROR, everything else as RECONCILE_ERROR; the alerter's
// cooldown keeps a persistently failing dependency from flooding the channel.
func (r *Reconciler) alertFailures(ctx context.Context, batch []event.ChainEvent, failed, membershipFailed int, lastErr error) {
	if r.alerter == nil {
		return
	}

	fields := map[string]string{
		"batch_size": fmt.Sprintf("%d", len(batch)),
		"failed":     fmt.Sprintf("%d", failed),
		"last_error": lastErr.Error(),
	}

	if membershipFailed > 0 {
		r.sendAlert(ctx, alert.Alert{
			Type:     alert.AlertTypeMembershipErr,
			Contract: r.contract,
			Title:    "Ghost membership reconcile failed",
			Message:  fmt.Sprintf("%d membership removal(s) failed and will retry on redelivery", membershipFailed),
			Fields:   fields,
		})
	}
	if failed > membershipFailed {
		r.sendAlert(ctx, alert.Alert{
			Type:     alert.AlertTypeReconcileErr,
			Contract: r.contract,
			Title:    "Batch apply failed",
			Message:  fmt.Sprintf("%d of %d events could not be applied", failed, len(batch)),
			Fields:   fields,
		})
	}
}

func (r *Reconciler) sendAlert(ctx context.Context, a alert.Alert) {
	if err := r.alerter.Send(ctx, a); err != nil {
		r.logger.Warn("failed to send alert", "type", a.Type, "error", err)
	}
}

func (r *Reconciler) applyEvent(ctx context.Context, ev event.ChainEvent) error {
	switch p := ev.Payload.(type) {
	case event.SubscriptionAdded:
		return r.applyAdded(ctx, ev, p)
	case event.SubscriptionRemoved:
		return r.applyRemoved(ctx, ev, p)
	case event.Settlement:
		return r.applySettlement(ctx, ev, p)
	default:
		return fmt.Errorf("unhandled payload type %T", ev.Payload)
	}
}

func (r *Reconciler) applyAdded(ctx context.Context, ev event.ChainEvent, p event.SubscriptionAdded) error {
	sub := &model.Subscription{
		ID:                ev.LogicalID,
		OwnerAddress:      p.OwnerAddress,
		SubscriberAddress: p.SubscriberAddress,
		TokenAddress:      p.TokenAddress,
		Value:             p.Value.String(),
		IntervalSeconds:   p.IntervalSeconds,
		BlockHeight:       ev.BlockHeight,
		TxHash:            ev.TxHash,
	}
	if err := r.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	r.logger.Info("subscription added",
		"subscription_id", sub.ID,
		"owner", sub.OwnerAddress,
		"subscriber", sub.SubscriberAddress,
		"token", r.tokenLabel(p.TokenAddress),
		"value", sub.Value,
		"interval_seconds", sub.IntervalSeconds,
		"block_height", ev.BlockHeight)
	return nil
}

func (r *Reconciler) applyRemoved(ctx context.Context, ev event.ChainEvent, p event.SubscriptionRemoved) error {
	sub, err := r.subscriptions.Find(ctx, ev.LogicalID)
	if err != nil {
		return fmt.Errorf("find subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("removal for unknown subscription %s", ev.LogicalID)
	}

	// A removal carried by an older block than the stored row is stale
	// replay, most often from the backfill overlapping the live stream.
	if ev.BlockHeight <= sub.BlockHeight {
		metrics.ReconcilerStaleRemovals.Inc()
		r.logger.Debug("skipping stale removal",
			"subscription_id", sub.ID,
			"event_height", ev.BlockHeight,
			"stored_height", sub.BlockHeight)
		return nil
	}

	ownerID, err := model.OwnerUUIDFromBytes32(p.OwnerUUID)
	if err != nil {
		return fmt.Errorf("decode owner uuid: %w", err)
	}
	owner, err := r.owners.FindByID(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("find owner profile: %w", err)
	}
	if owner == nil {
		return fmt.Errorf("no owner profile for %s", ownerID)
	}

	removed, err := r.membership.ReconcileRemoval(ctx, sub, owner)
	if err != nil {
		return fmt.Errorf("%w: %w", errMembership, err)
	}
	if !removed {
		// No live membership to revoke; leave the row as-is so a later
		// binding can still be cleaned up when the member appears.
		return nil
	}

	if err := r.subscriptions.MarkCancelled(ctx, sub.ID, ev.BlockHeight, ev.TxHash); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}

	r.logger.Info("subscription removed",
		"subscription_id", sub.ID,
		"owner", sub.OwnerAddress,
		"subscriber", sub.SubscriberAddress,
		"block_height", ev.BlockHeight)
	return nil
}

func (r *Reconciler) applySettlement(ctx context.Context, ev event.ChainEvent, p event.Settlement) error {
	st := &model.Settlement{
		SubscriptionID:    ev.LogicalID,
		TxHash:            ev.TxHash,
		BlockHeight:       ev.BlockHeight,
		OwnerAddress:      p.OwnerAddress,
		SubscriberAddress: p.SubscriberAddress,
		TokenAddress:      p.TokenAddress,
		Value:             p.Value.String(),
		Error:             p.Failed,
	}
	if err := r.settlements.Upsert(ctx, st); err != nil {
		return fmt.Errorf("upsert settlement: %w", err)
	}

	r.logger.Info("settlement recorded",
		"subscription_id", st.SubscriptionID,
		"tx_hash", st.TxHash,
		"token", r.tokenLabel(p.TokenAddress),
		"value", st.Value,
		"failed", st.Error,
		"block_height", ev.BlockHeight)
	return nil
}

// tokenLabel resolves an address to its symbol for logging. Unknown tokens
// are logged by address; settlement rows keep the address regardless.
func (r *Reconciler) tokenLabel(address string) string {
	if r.registry == nil {
		return address
	}
	info, err := r.registry.Get(address)
	if err != nil {
		if !errors.Is(err, token.ErrUnknownToken) {
			r.logger.Warn("token lookup failed", "address", address, "error", err)
		}
		return address
	}
	return info.Symbol
}
