// Package privacylog wraps a slog.Handler so that secret-bearing attributes
// never reach the log sink and identifying ones are fingerprinted. An
// identifier fingerprinted anywhere in a record, or earlier through With, is
// also replaced wherever it reappears in the message, string values, error
// text or Stringer output of that record.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = rand.Text()

	fingerprintKeys = map[string]struct{}{
		"handle":  {},
		"key_id":  {},
		"account": {},
		"profile": {},
	}
	// A key containing any of these is redacted outright.
	secretKeyParts = []string{"mnemonic", "phrase", "seed", "private", "secret", "password", "token", "authorization"}
)

type SanitizingHandler struct {
	next      slog.Handler
	inherited []identifier
}

type identifier struct {
	raw string
	fp  string
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make([]slog.Attr, 0, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	s := newScrubber(h.inherited, attrs)
	out := slog.NewRecord(rec.Time, rec.Level, s.text(rec.Message), rec.PC)
	out.AddAttrs(s.attrs(attrs)...)
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	s := newScrubber(h.inherited, attrs)
	return &SanitizingHandler{next: h.next.WithAttrs(s.attrs(attrs)), inherited: s.ids}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), inherited: h.inherited}
}

// FingerprintID maps an identifier to a stable token for the life of the
// process. Tokens do not correlate across restarts.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

type scrubber struct {
	ids      []identifier
	replacer *strings.Replacer
}

func newScrubber(inherited []identifier, attrs []slog.Attr) *scrubber {
	s := &scrubber{ids: append([]identifier(nil), inherited...)}
	s.collect(attrs)
	if len(s.ids) == 0 {
		return s
	}
	// Longest first so an identifier containing another is replaced whole.
	sort.SliceStable(s.ids, func(i, j int) bool { return len(s.ids[i].raw) > len(s.ids[j].raw) })
	pairs := make([]string, 0, 2*len(s.ids))
	for _, id := range s.ids {
		pairs = append(pairs, id.raw, id.fp)
	}
	s.replacer = strings.NewReplacer(pairs...)
	return s
}

func (s *scrubber) collect(attrs []slog.Attr) {
	for _, a := range attrs {
		key := normalizeKey(a.Key)
		if isSecretKey(key) {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			s.collect(v.Group())
			continue
		}
		if !isFingerprintKey(key) {
			continue
		}
		if raw := strings.TrimSpace(v.String()); raw != "" {
			s.ids = append(s.ids, identifier{raw: raw, fp: FingerprintID(raw)})
		}
	}
}

func (s *scrubber) text(v string) string {
	if s.replacer == nil {
		return v
	}
	return s.replacer.Replace(v)
}

func (s *scrubber) attrs(in []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(in))
	for _, a := range in {
		out = append(out, s.attr(a))
	}
	return out
}

func (s *scrubber) attr(a slog.Attr) slog.Attr {
	key := strings.TrimSpace(a.Key)
	norm := normalizeKey(key)
	switch {
	case isSecretKey(norm):
		return slog.String(key, redactedValue)
	case isFingerprintKey(norm):
		return slog.String(fingerprintKeyName(key), FingerprintID(a.Value.Resolve().String()))
	case isByteSlice(a.Value):
		// Raw buffers are phrases, seeds or keys more often than not.
		return slog.String(key, redactedValue)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		return slog.Attr{Key: key, Value: slog.GroupValue(s.attrs(v.Group())...)}
	case slog.KindString:
		return slog.String(key, s.text(v.String()))
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(key, s.text(x.Error()))
		case fmt.Stringer:
			return slog.String(key, s.text(x.String()))
		}
		if isByteSlice(v) {
			return slog.String(key, redactedValue)
		}
	}
	return slog.Attr{Key: key, Value: v}
}

// isByteSlice reports whether v wraps a []byte or a named byte-slice type
// such as a mnemonic buffer or an ed25519 key, before or after LogValue.
func isByteSlice(v slog.Value) bool {
	if v.Kind() != slog.KindAny && v.Kind() != slog.KindLogValuer {
		return false
	}
	rv := reflect.ValueOf(v.Any())
	return rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func isFingerprintKey(key string) bool {
	_, ok := fingerprintKeys[key]
	return ok
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(normalizeKey(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func isSecretKey(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
