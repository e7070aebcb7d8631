package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostethereum/ghostethereum/internal/alert"
	"github.com/ghostethereum/ghostethereum/internal/domain/event"
	"github.com/ghostethereum/ghostethereum/internal/domain/model"
)

const (
	testContract = "0x5ee2bcafbf17d92f93e45dbe66189eba15012acc"
	testOwner    = "0xaaa0000000000000000000000000000000000001"
	testSub      = "0xbbb0000000000000000000000000000000000002"
	testToken    = "0xccc0000000000000000000000000000000000003"

	// bytes32-encoded vendor profile id as the contract emits it.
	testOwnerUUIDHex = "0x00000000000000000000000000000000b2f7aa6f47b34224a3acf3bfa8c7561e"
)

type fakeSubscriptionRepo struct {
	rows      map[string]*model.Subscription
	cancelled []string
	upserts   int
	upsertErr error
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{rows: make(map[string]*model.Subscription)}
}

func (f *fakeSubscriptionRepo) Find(_ context.Context, id string) (*model.Subscription, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubscriptionRepo) Upsert(_ context.Context, s *model.Subscription) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	existing, ok := f.rows[s.ID]
	cp := *s
	if ok {
		cp.GhostID = existing.GhostID
	}
	cp.Cancelled = false
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSubscriptionRepo) MarkCancelled(_ context.Context, id string, blockHeight int64, txHash string) error {
	s := f.rows[id]
	s.Cancelled = true
	s.BlockHeight = blockHeight
	s.TxHash = txHash
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeSettlementRepo struct {
	rows map[string]*model.Settlement
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{rows: make(map[string]*model.Settlement)}
}

func (f *fakeSettlementRepo) Find(_ context.Context, subscriptionID, txHash string) (*model.Settlement, error) {
	s, ok := f.rows[subscriptionID+"/"+txHash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSettlementRepo) Upsert(_ context.Context, s *model.Settlement) error {
	key := s.SubscriptionID + "/" + s.TxHash
	if existing, ok := f.rows[key]; ok {
		existing.Value = s.Value
		existing.Error = s.Error
		return nil
	}
	cp := *s
	f.rows[key] = &cp
	return nil
}

type fakeOwnerRepo struct {
	profiles map[uuid.UUID]*model.OwnerProfile
}

func (f *fakeOwnerRepo) FindByID(_ context.Context, id uuid.UUID) (*model.OwnerProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	return p, nil
}

type fakeCheckpointRepo struct {
	heights map[string]int64
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{heights: make(map[string]int64)}
}

func (f *fakeCheckpointRepo) Get(_ context.Context, contract string) (int64, error) {
	return f.heights[contract], nil
}

func (f *fakeCheckpointRepo) Advance(_ context.Context, contract string, blockHeight int64) error {
	if blockHeight > f.heights[contract] {
		f.heights[contract] = blockHeight
	}
	return nil
}

type fakeMembership struct {
	removed bool
	err     error
	calls   int
}

func (f *fakeMembership) ReconcileRemoval(_ context.Context, _ *model.Subscription, _ *model.OwnerProfile) (bool, error) {
	f.calls++
	return f.removed, f.err
}

type fakeAlerter struct {
	sent []alert.Alert
}

func (f *fakeAlerter) Send(_ context.Context, a alert.Alert) error {
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeAlerter) types() []alert.AlertType {
	var out []alert.AlertType
	for _, a := range f.sent {
		out = append(out, a.Type)
	}
	return out
}

type fixture struct {
	subs        *fakeSubscriptionRepo
	settlements *fakeSettlementRepo
	owners      *fakeOwnerRepo
	checkpoints *fakeCheckpointRepo
	membership  *fakeMembership
	alerts      *fakeAlerter
	r           *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ownerID, err := model.OwnerUUIDFromBytes32(testOwnerUUIDHex)
	require.NoError(t, err)

	f := &fixture{
		subs:        newFakeSubscriptionRepo(),
		settlements: newFakeSettlementRepo(),
		owners: &fakeOwnerRepo{profiles: map[uuid.UUID]*model.OwnerProfile{
			ownerID: {
				ID:            ownerID,
				Address:       testOwner,
				GhostAPIURL:   "https://blog.example.com",
				GhostAdminKey: "keyid:aabb",
			},
		}},
		checkpoints: newFakeCheckpointRepo(),
		membership:  &fakeMembership{removed: true},
		alerts:      &fakeAlerter{},
	}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	f.r = New(f.subs, f.settlements, f.owners, f.checkpoints, f.membership, nil, f.alerts, testContract, logger)
	return f
}

func addedEvent(id string, height int64, value int64) event.ChainEvent {
	return event.ChainEvent{
		Kind:        event.KindSubscriptionAdded,
		BlockHeight: height,
		TxHash:      "0xadd",
		LogicalID:   id,
		Payload: event.SubscriptionAdded{
			OwnerAddress:      testOwner,
			SubscriberAddress: testSub,
			TokenAddress:      testToken,
			Value:             big.NewInt(value),
			IntervalSeconds:   2592000,
		},
	}
}

func removedEvent(id string, height int64) event.ChainEvent {
	return event.ChainEvent{
		Kind:        event.KindSubscriptionRemoved,
		BlockHeight: height,
		TxHash:      "0xrem",
		LogicalID:   id,
		Payload: event.SubscriptionRemoved{
			OwnerAddress:      testOwner,
			SubscriberAddress: testSub,
			TokenAddress:      testToken,
			OwnerUUID:         testOwnerUUIDHex,
		},
	}
}

func settlementEvent(id, txHash string, height int64, failed bool) event.ChainEvent {
	kind := event.KindSettlementSuccess
	if failed {
		kind = event.KindSettlementFailure
	}
	return event.ChainEvent{
		Kind:        kind,
		BlockHeight: height,
		TxHash:      txHash,
		LogicalID:   id,
		Payload: event.Settlement{
			OwnerAddress:      testOwner,
			SubscriberAddress: testSub,
			TokenAddress:      testToken,
			Value:             big.NewInt(5000000),
			Failed:            failed,
		},
	}
}

func TestApplyAddedCreatesSubscription(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})

	sub, err := f.subs.Find(context.Background(), "0x01")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "5000000", sub.Value)
	assert.Equal(t, int64(2592000), sub.IntervalSeconds)
	assert.False(t, sub.Cancelled)
	assert.Equal(t, int64(100), sub.BlockHeight)
}

func TestApplyAddedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ev := addedEvent("0x01", 100, 5000000)

	f.r.Apply(context.Background(), []event.ChainEvent{ev})
	f.r.Apply(context.Background(), []event.ChainEvent{ev})

	assert.Equal(t, 2, f.subs.upserts)
	assert.Len(t, f.subs.rows, 1)
}

func TestApplyReaddClearsCancellation(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})
	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 110)})
	require.True(t, f.subs.rows["0x01"].Cancelled)

	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 120, 7000000)})

	sub := f.subs.rows["0x01"]
	assert.False(t, sub.Cancelled)
	assert.Equal(t, "7000000", sub.Value)
}

func TestApplyRemovedCancelsWhenMemberRemoved(t *testing.T) {
	f := newFixture(t)
	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})

	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 110)})

	assert.Equal(t, 1, f.membership.calls)
	assert.Equal(t, []string{"0x01"}, f.subs.cancelled)
	assert.True(t, f.subs.rows["0x01"].Cancelled)
	assert.Equal(t, int64(110), f.subs.rows["0x01"].BlockHeight)
}

func TestApplyRemovedWithoutMemberLeavesRow(t *testing.T) {
	f := newFixture(t)
	f.membership.removed = false
	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})

	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 110)})

	assert.Equal(t, 1, f.membership.calls)
	assert.Empty(t, f.subs.cancelled)
	assert.False(t, f.subs.rows["0x01"].Cancelled)
}

func TestApplyRemovedStaleHeightIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})

	// Same height and lower height are both stale.
	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 100)})
	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 90)})

	assert.Zero(t, f.membership.calls)
	assert.False(t, f.subs.rows["0x01"].Cancelled)
}

func TestApplyRemovedUnknownSubscriptionDoesNotBlockBatch(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{
		removedEvent("0xmissing", 100),
		addedEvent("0x01", 101, 5000000),
	})

	// The bad removal is isolated; the add still lands.
	require.NotNil(t, f.subs.rows["0x01"])
	assert.Equal(t, int64(101), f.checkpoints.heights[testContract])
}

func TestApplySettlementSuccess(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{settlementEvent("0x01", "0xtx1", 200, false)})

	st, err := f.settlements.Find(context.Background(), "0x01", "0xtx1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "5000000", st.Value)
	assert.False(t, st.Error)
}

func TestApplySettlementFailureThenSuccessRefreshes(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{settlementEvent("0x01", "0xtx1", 200, true)})
	st, _ := f.settlements.Find(context.Background(), "0x01", "0xtx1")
	require.True(t, st.Error)

	f.r.Apply(context.Background(), []event.ChainEvent{settlementEvent("0x01", "0xtx1", 200, false)})
	st, _ = f.settlements.Find(context.Background(), "0x01", "0xtx1")
	assert.False(t, st.Error, "a later success for the same tx clears the failure")
}

func TestApplyStorageFailureRaisesReconcileAlert(t *testing.T) {
	f := newFixture(t)
	f.subs.upsertErr = errors.New("pq: connection refused")

	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})

	require.Equal(t, []alert.AlertType{alert.AlertTypeReconcileErr}, f.alerts.types())
	a := f.alerts.sent[0]
	assert.Equal(t, testContract, a.Contract)
	assert.Equal(t, "1", a.Fields["failed"])
	assert.Contains(t, a.Fields["last_error"], "connection refused")
}

func TestApplyMembershipFailureRaisesMembershipAlert(t *testing.T) {
	f := newFixture(t)
	f.membership.err = errors.New("ghost returned status 503")
	f.r.Apply(context.Background(), []event.ChainEvent{addedEvent("0x01", 100, 5000000)})
	require.Empty(t, f.alerts.sent)

	f.r.Apply(context.Background(), []event.ChainEvent{removedEvent("0x01", 110)})

	require.Equal(t, []alert.AlertType{alert.AlertTypeMembershipErr}, f.alerts.types())
	assert.Empty(t, f.subs.cancelled, "a failed removal leaves the row for redelivery")
}

func TestApplyCleanBatchSendsNoAlert(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{
		addedEvent("0x01", 100, 5000000),
		settlementEvent("0x01", "0xtx1", 105, false),
	})

	assert.Empty(t, f.alerts.sent)
}

func TestApplyAdvancesCheckpointToBatchMax(t *testing.T) {
	f := newFixture(t)

	f.r.Apply(context.Background(), []event.ChainEvent{
		addedEvent("0x01", 100, 1),
		settlementEvent("0x01", "0xtx1", 305, false),
		settlementEvent("0x01", "0xtx2", 210, false),
	})

	assert.Equal(t, int64(305), f.checkpoints.heights[testContract])
}
