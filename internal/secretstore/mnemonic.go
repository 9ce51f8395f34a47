package secretstore

import (
	"bytes"
	"log/slog"
)

const redacted = "[REDACTED]"

// Mnemonic holds a recovery phrase as mutable bytes so it can be wiped.
// It formats and logs as [REDACTED].
type Mnemonic []byte

// NewMnemonic copies s with surrounding whitespace removed.
func NewMnemonic(s []byte) Mnemonic {
	trimmed := bytes.TrimSpace(s)
	out := make(Mnemonic, len(trimmed))
	copy(out, trimmed)
	return out
}

// Wipe zeroes the phrase in place.
func (m Mnemonic) Wipe() { clear(m) }

func (m Mnemonic) Clone() Mnemonic {
	if m == nil {
		return nil
	}
	return append(Mnemonic(nil), m...)
}

func (m Mnemonic) String() string { return redacted }

func (m Mnemonic) GoString() string { return redacted }

func (m Mnemonic) LogValue() slog.Value { return slog.StringValue(redacted) }
