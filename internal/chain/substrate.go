package chain

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"launch-helpdesk/internal/models"
)

const newLaunchEvent = "Launch.NewLaunch"

// Substrate subscribes to System.Events on a Robonomics node over websocket.
type Substrate struct {
	endpoint string
}

func NewSubstrate(endpoint string) *Substrate {
	return &Substrate{endpoint: endpoint}
}

func (s *Substrate) SubscribeLaunches(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	api, err := gsrpc.NewSubstrateAPI(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s.endpoint, err)
	}
	sub, err := s.subscribe(api)
	if err != nil {
		api.Client.Close()
		return nil, err
	}
	return sub, nil
}

func (s *Substrate) subscribe(api *gsrpc.SubstrateAPI) (*substrateSubscription, error) {
	// Metadata is fetched per subscription so a runtime upgrade is picked up on resubscribe.
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	eventRegistry, err := registry.NewFactory().CreateEventRegistry(meta)
	if err != nil {
		return nil, fmt.Errorf("building event registry: %w", err)
	}
	key, err := types.CreateStorageKey(meta, "System", "Events")
	if err != nil {
		return nil, fmt.Errorf("creating System.Events key: %w", err)
	}
	raw, err := api.RPC.State.SubscribeStorageRaw([]types.StorageKey{key})
	if err != nil {
		return nil, fmt.Errorf("subscribing to System.Events: %w", err)
	}

	sub := newSubstrateSubscription(raw, eventRegistry, parser.NewEventParser(), api.Client.Close)
	slog.Debug("Subscribed to NewLaunch event", "endpoint", s.endpoint)
	return sub, nil
}

// rawSubscription is the part of *state.StorageSubscription used here.
type rawSubscription interface {
	Chan() <-chan types.StorageChangeSet
	Err() <-chan error
	Unsubscribe()
}

type eventParser interface {
	ParseEvents(eventRegistry registry.EventRegistry, sd *types.StorageDataRaw) ([]*parser.Event, error)
}

var _ rawSubscription = (*state.StorageSubscription)(nil)

type substrateSubscription struct {
	raw       rawSubscription
	registry  registry.EventRegistry
	parser    eventParser
	closeConn func()
	events    chan models.LaunchEvent
	done      chan struct{}
	once      sync.Once
	alive     atomic.Bool
}

func newSubstrateSubscription(raw rawSubscription, reg registry.EventRegistry, p eventParser, closeConn func()) *substrateSubscription {
	sub := &substrateSubscription{
		raw:       raw,
		registry:  reg,
		parser:    p,
		closeConn: closeConn,
		events:    make(chan models.LaunchEvent, 16),
		done:      make(chan struct{}),
	}
	sub.alive.Store(true)
	go sub.run()
	return sub
}

func (s *substrateSubscription) Events() <-chan models.LaunchEvent {
	return s.events
}

func (s *substrateSubscription) IsAlive() bool {
	return s.alive.Load()
}

func (s *substrateSubscription) Cancel() {
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.done)
		s.raw.Unsubscribe()
		s.closeConn()
	})
}

func (s *substrateSubscription) run() {
	defer close(s.events)
	defer s.alive.Store(false)
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-s.raw.Err():
			// Unsubscribe closes the error channel; that is not a failure.
			if ok && err != nil {
				slog.Warn("Event subscription failed", "error", err)
			}
			return
		case set, ok := <-s.raw.Chan():
			if !ok {
				return
			}
			for _, change := range set.Changes {
				if !change.HasStorageData {
					continue
				}
				if !s.dispatch(set.Block, change.StorageData) {
					return
				}
			}
		}
	}
}

// dispatch returns false once the subscription has been cancelled.
func (s *substrateSubscription) dispatch(block types.Hash, data types.StorageDataRaw) bool {
	parsed, err := s.parser.ParseEvents(s.registry, &data)
	if err != nil {
		slog.Warn("Failed to parse block events", "block", block.Hex(), "error", err)
		return true
	}
	for _, ev := range parsed {
		if ev.Name != newLaunchEvent {
			continue
		}
		launch, err := launchFromFields(ev.Fields)
		if err != nil {
			slog.Warn("Malformed NewLaunch event", "block", block.Hex(), "error", err)
			continue
		}
		select {
		case s.events <- launch:
		case <-s.done:
			return false
		}
	}
	return true
}

func launchFromFields(fields registry.DecodedFields) (models.LaunchEvent, error) {
	if len(fields) != 3 {
		return models.LaunchEvent{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	var parts [3][32]byte
	for i, f := range fields {
		b, err := bytes32(f.Value)
		if err != nil {
			return models.LaunchEvent{}, fmt.Errorf("field %d (%s): %w", i, f.Name, err)
		}
		parts[i] = b
	}
	return models.LaunchEvent{
		Sender: Address(parts[0]),
		Robot:  Address(parts[1]),
		Param:  parts[2],
	}, nil
}

// bytes32 flattens whatever shape the registry decoder produced for an
// AccountId32 or H256 (nested composites, arrays of U8) into 32 bytes.
func bytes32(v any) ([32]byte, error) {
	var out [32]byte
	b, err := flatten(v)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func flatten(v any) ([]byte, error) {
	switch t := v.(type) {
	case registry.DecodedFields:
		if len(t) != 1 {
			return nil, fmt.Errorf("composite with %d fields", len(t))
		}
		return flatten(t[0].Value)
	case *registry.DecodedField:
		return flatten(t.Value)
	case types.U8:
		return []byte{byte(t)}, nil
	case []byte:
		return t, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint8:
		return []byte{uint8(rv.Uint())}, nil
	case reflect.Array, reflect.Slice:
		var out []byte
		for i := 0; i < rv.Len(); i++ {
			b, err := flatten(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}
