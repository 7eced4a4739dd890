package state

import (
	"encoding/hex"
	"fmt"
)

func encodeHex(b []byte) string { return hex.EncodeToString(b) }

func decodeHex20(raw string, out *[20]byte) error {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("state: corrupt address %q: %w", raw, err)
	}
	if len(decoded) != 20 {
		return fmt.Errorf("state: address %q must be 20 bytes", raw)
	}
	copy(out[:], decoded)
	return nil
}

func decodeHex32(raw string, out *[32]byte) error {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("state: corrupt identifier %q: %w", raw, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("state: identifier %q must be 32 bytes", raw)
	}
	copy(out[:], decoded)
	return nil
}
