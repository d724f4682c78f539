package atomiq

import (
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/utils"

	"github.com/volta-protocol/voltgate/lnerr"
)

// minAddressLength weeds out obviously truncated input before we bother
// parsing it as a field element.
const minAddressLength = 10

// ParseStarknetAddress parses the given string as a Starknet account
// address: 0x-prefixed hex that fits in a field element and is not zero.
// Returns an INVALID_ADDRESS error otherwise.
func ParseStarknetAddress(address string) (*felt.Felt, error) {
	if len(address) < minAddressLength {
		return nil, lnerr.InvalidAddress("address %q is too short", address)
	}
	if !strings.HasPrefix(address, "0x") {
		return nil, lnerr.InvalidAddress("address %q is missing the 0x prefix", address)
	}

	f, err := utils.HexToFelt(address)
	if err != nil {
		return nil, lnerr.InvalidAddress("address %q is not a valid field element: %v", address, err)
	}
	if f.IsZero() {
		return nil, lnerr.InvalidAddress("address must not be zero")
	}
	return f, nil
}

// ValidateStarknetAddress checks that the given string is a plausible
// Starknet account address.
func ValidateStarknetAddress(address string) error {
	_, err := ParseStarknetAddress(address)
	return err
}
