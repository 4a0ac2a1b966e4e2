package domain

import (
	"github.com/mr-tron/base58"
)

// AddressNotAvailable is shown for signers without a recorded key.
const AddressNotAvailable = "N/A"

// FormatAddress converts a raw signer key into its base58 display address. Only a nil key is
// treated as absent, an empty key encodes to the empty string.
func FormatAddress(key []byte) string {
	if key == nil {
		return AddressNotAvailable
	}
	return base58.Encode(key)
}
