package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ghostethereum/ghostethereum/internal/domain/model"
	"github.com/ghostethereum/ghostethereum/internal/metrics"
)

// MemberAPI is the slice of the Ghost Admin API the notifier needs.
type MemberAPI interface {
	FindMember(ctx context.Context, apiURL, adminKey, memberID string) (*Member, error)
	DeleteMember(ctx context.Context, apiURL, adminKey, memberID string) error
}

// Notifier revokes CMS memberships when subscriptions are removed on chain.
type Notifier struct {
	api    MemberAPI
	logger *slog.Logger
}

func NewNotifier(api MemberAPI, logger *slog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		logger: logger.With("component", "membership_notifier"),
	}
}

// ReconcileRemoval deletes the Ghost member bound to the subscription, if
// one exists. It reports whether a live membership was actually removed:
// the caller only marks the subscription cancelled on a true return, so a
// removal event with no member behind it leaves the row untouched.
func (n *Notifier) ReconcileRemoval(ctx context.Context, sub *model.Subscription, owner *model.OwnerProfile) (bool, error) {
	if sub.GhostID == nil || *sub.GhostID == "" {
		metrics.MembershipLookupMisses.Inc()
		n.logger.Debug("subscription has no ghost member binding",
			"subscription_id", sub.ID)
		return false, nil
	}

	member, err := n.api.FindMember(ctx, owner.GhostAPIURL, owner.GhostAdminKey, *sub.GhostID)
	if err != nil {
		metrics.MembershipErrors.Inc()
		return false, fmt.Errorf("find ghost member %s: %w", *sub.GhostID, err)
	}
	if member == nil {
		metrics.MembershipLookupMisses.Inc()
		n.logger.Warn("ghost member not found for removed subscription",
			"subscription_id", sub.ID,
			"ghost_id", *sub.GhostID)
		return false, nil
	}

	if err := n.api.DeleteMember(ctx, owner.GhostAPIURL, owner.GhostAdminKey, member.ID); err != nil {
		metrics.MembershipErrors.Inc()
		return false, fmt.Errorf("delete ghost member %s: %w", member.ID, err)
	}

	metrics.MembershipRemovals.Inc()
	n.logger.Info("revoked ghost membership",
		"subscription_id", sub.ID,
		"ghost_id", member.ID,
		"member_email", member.Email)
	return true, nil
}
