package chain

import (
	"context"
	"fmt"

	"github.com/multiformats/go-multihash"
	"github.com/vedhavyas/go-subkey/v2"

	"launch-helpdesk/internal/models"
)

// RobonomicsSS58Prefix is the address format of the Robonomics parachain.
const RobonomicsSS58Prefix uint16 = 32

// Subscription is a live NewLaunch event stream. Cancel is safe to call more than once.
type Subscription interface {
	Events() <-chan models.LaunchEvent
	IsAlive() bool
	Cancel()
}

type Client interface {
	SubscribeLaunches(ctx context.Context) (Subscription, error)
}

// CID turns a 32 byte launch parameter into the CIDv0 ("Qm...") it encodes.
// The parameter is the raw sha2-256 digest, the multihash prefix is implied.
func CID(param [32]byte) (string, error) {
	mh, err := multihash.Encode(param[:], multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("encoding multihash: %w", err)
	}
	return multihash.Multihash(mh).B58String(), nil
}

func Address(accountID [32]byte) string {
	return subkey.SS58Encode(accountID[:], RobonomicsSS58Prefix)
}

// NormalizeAddress re-encodes an SS58 address of any network format with the
// Robonomics prefix, so it compares equal to addresses decoded from events.
func NormalizeAddress(addr string) (string, error) {
	// 32 byte account ids encode to 47 or 48 characters.
	if len(addr) < 47 || len(addr) > 48 {
		return "", fmt.Errorf("address %q is not an SS58 account id", addr)
	}
	_, pub, err := subkey.SS58Decode(addr)
	if err != nil {
		return "", fmt.Errorf("decoding address %q: %w", addr, err)
	}
	if len(pub) != 32 {
		return "", fmt.Errorf("address %q holds %d bytes, want a 32 byte account id", addr, len(pub))
	}
	var id [32]byte
	copy(id[:], pub)
	return Address(id), nil
}
