// Package codec is the Codec Adapter (C2): a thin wrapper over the
// Serializer that tags SPACE-kind payloads with an operation prefix and a
// wall-clock timestamp, per spec.md §4.2.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agilira/go-timecache"

	"github.com/dreamware/atomdht/atom"
)

// Serializer is the external collaborator spec.md §6 calls the
// "Serializer interface (consumed)" — encode/decode of atoms and values.
type Serializer interface {
	EncodeAtom(a *atom.Atom) string
	DecodeAtom(s string, offset int) (*atom.Atom, int, error)
	EncodeAtomValues(a *atom.Atom) string
	DecodeAlist(a *atom.Atom, s string) error
	EncodeValue(v atom.Value) string
}

// Adapter wraps a Serializer, adding the SPACE record's "add"/"drop" tag
// and timestamp framing.
type Adapter struct {
	ser Serializer
}

// New wraps ser.
func New(ser Serializer) *Adapter {
	return &Adapter{ser: ser}
}

// EncodeAtom delegates straight to the Serializer.
func (a *Adapter) EncodeAtom(at *atom.Atom) string { return a.ser.EncodeAtom(at) }

// DecodeAtom delegates straight to the Serializer.
func (a *Adapter) DecodeAtom(s string, offset int) (*atom.Atom, int, error) {
	return a.ser.DecodeAtom(s, offset)
}

// EncodeAtomValues delegates straight to the Serializer.
func (a *Adapter) EncodeAtomValues(at *atom.Atom) string { return a.ser.EncodeAtomValues(at) }

// DecodeAlist delegates straight to the Serializer.
func (a *Adapter) DecodeAlist(at *atom.Atom, s string) error { return a.ser.DecodeAlist(at, s) }

// EncodeValue delegates straight to the Serializer.
func (a *Adapter) EncodeValue(v atom.Value) string { return a.ser.EncodeValue(v) }

// EncodeAdd renders the SPACE "add" payload for at: "add <t> <s-expr>",
// where <t> is the current wall-clock time as decimal seconds with six
// fractional digits (spec.md §4.2, §6).
func (a *Adapter) EncodeAdd(at *atom.Atom) string {
	return "add " + timestamp() + " " + a.ser.EncodeAtom(at)
}

// EncodeDrop renders the SPACE "drop" tombstone payload for at.
func (a *Adapter) EncodeDrop(at *atom.Atom) string {
	return "drop " + timestamp() + " " + a.ser.EncodeAtom(at)
}

// SpacePrefix reports the operation tag ("add" or "drop") and the byte
// offset of the trailing s-expression within a SPACE payload, or ok=false
// if payload does not begin with either tag.
func SpacePrefix(payload string) (op string, sexprOffset int, ok bool) {
	for _, tag := range [...]string{"add", "drop"} {
		prefix := tag + " "
		if !strings.HasPrefix(payload, prefix) {
			continue
		}
		rest := payload[len(prefix):]
		idx := strings.IndexByte(rest, ' ')
		if idx < 0 {
			return "", 0, false
		}
		return tag, len(prefix) + idx + 1, true
	}
	return "", 0, false
}

// timestamp renders go-timecache's cached wall clock as decimal seconds
// with a six-digit fractional part, per spec.md §6 ("Timestamps <t> are
// decimal seconds with six fractional digits"). Only these SPACE payload
// timestamps come from go-timecache; the in-process overlay stamps its
// records from its own Config.Clock, which defaults to time.Now.
func timestamp() string {
	nanos := timecache.CachedTimeNano()
	seconds := nanos / 1e9
	micros := (nanos % 1e9) / 1e3
	return fmt.Sprintf("%d.%s", seconds, pad6(micros))
}

func pad6(micros int64) string {
	s := strconv.FormatInt(micros, 10)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}
