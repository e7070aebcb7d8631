package event

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// subscriptionABI covers the four events the indexer consumes. The id topic
// is the logical subscription id; all other fields ride in the data segment.
const subscriptionABI = `[
	{"type":"event","name":"SubscriptionAdded","inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"ownerAddress","type":"address","indexed":false},
		{"name":"subscriberAddress","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false},
		{"name":"interval","type":"uint256","indexed":false}]},
	{"type":"event","name":"SubscriptionRemoved","inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"ownerAddress","type":"address","indexed":false},
		{"name":"subscriberAddress","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"uuid","type":"bytes32","indexed":false}]},
	{"type":"event","name":"SettlementSuccess","inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"ownerAddress","type":"address","indexed":false},
		{"name":"subscriberAddress","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"SettlementFailure","inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"ownerAddress","type":"address","indexed":false},
		{"name":"subscriberAddress","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]}
]`

// DecodeError marks a log that could not be turned into a ChainEvent. The
// source logs and drops these; they never reach the queue.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("decode event: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns raw contract logs into typed ChainEvents.
type Decoder struct {
	abi        abi.ABI
	eventBySig map[common.Hash]abi.Event
}

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(subscriptionABI))
	if err != nil {
		return nil, fmt.Errorf("parse subscription ABI: %w", err)
	}
	bySig := make(map[common.Hash]abi.Event, len(parsed.Events))
	for _, ev := range parsed.Events {
		bySig[ev.ID] = ev
	}
	return &Decoder{abi: parsed, eventBySig: bySig}, nil
}

// ABI exposes the parsed contract ABI, used by tests to pack fixture logs.
func (d *Decoder) ABI() abi.ABI { return d.abi }

// Decode maps a raw log onto the event union. Logs with an unknown topic or
// a malformed data segment yield a DecodeError.
func (d *Decoder) Decode(lg types.Log) (ChainEvent, error) {
	if len(lg.Topics) < 2 {
		return ChainEvent{}, &DecodeError{Err: fmt.Errorf("log %s has %d topics, want 2", lg.TxHash.Hex(), len(lg.Topics))}
	}

	abiEvent, ok := d.eventBySig[lg.Topics[0]]
	if !ok {
		return ChainEvent{}, &DecodeError{Err: fmt.Errorf("unknown event signature %s", lg.Topics[0].Hex())}
	}

	values := make(map[string]interface{})
	if err := d.abi.UnpackIntoMap(values, abiEvent.Name, lg.Data); err != nil {
		return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
	}

	ev := ChainEvent{
		BlockHeight: int64(lg.BlockNumber),
		TxHash:      lg.TxHash.Hex(),
		LogicalID:   lg.Topics[1].Hex(),
	}

	owner, err := addressField(values, "ownerAddress")
	if err != nil {
		return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
	}
	subscriber, err := addressField(values, "subscriberAddress")
	if err != nil {
		return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
	}
	token, err := addressField(values, "tokenAddress")
	if err != nil {
		return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
	}

	switch abiEvent.Name {
	case string(KindSubscriptionAdded):
		value, err := bigField(values, "value")
		if err != nil {
			return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
		}
		interval, err := bigField(values, "interval")
		if err != nil {
			return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
		}
		if !interval.IsInt64() {
			return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: fmt.Errorf("interval %s overflows int64", interval)}
		}
		ev.Kind = KindSubscriptionAdded
		ev.Payload = SubscriptionAdded{
			OwnerAddress:      owner,
			SubscriberAddress: subscriber,
			TokenAddress:      token,
			Value:             value,
			IntervalSeconds:   interval.Int64(),
		}
	case string(KindSubscriptionRemoved):
		raw, ok := values["uuid"].([32]byte)
		if !ok {
			return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: fmt.Errorf("uuid field has type %T", values["uuid"])}
		}
		ev.Kind = KindSubscriptionRemoved
		ev.Payload = SubscriptionRemoved{
			OwnerAddress:      owner,
			SubscriberAddress: subscriber,
			TokenAddress:      token,
			OwnerUUID:         common.Hash(raw).Hex(),
		}
	case string(KindSettlementSuccess), string(KindSettlementFailure):
		value, err := bigField(values, "value")
		if err != nil {
			return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: err}
		}
		ev.Kind = Kind(abiEvent.Name)
		ev.Payload = Settlement{
			OwnerAddress:      owner,
			SubscriberAddress: subscriber,
			TokenAddress:      token,
			Value:             value,
			Failed:            abiEvent.Name == string(KindSettlementFailure),
		}
	default:
		return ChainEvent{}, &DecodeError{Event: abiEvent.Name, Err: fmt.Errorf("event has no decoder")}
	}

	return ev, nil
}

func addressField(values map[string]interface{}, name string) (string, error) {
	addr, ok := values[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("%s field has type %T", name, values[name])
	}
	return strings.ToLower(addr.Hex()), nil
}

func bigField(values map[string]interface{}, name string) (*big.Int, error) {
	v, ok := values[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s field has type %T", name, values[name])
	}
	return v, nil
}
