// Wire framing for the RPC listener: each connection carries exactly one
// length-prefixed, HMAC-authenticated message. Adapted from aistore's
// transport package framing idiom (transport/pdu.go: a fixed header
// followed by a length-delimited payload) but carrying a JSON envelope
// instead of raw object bytes, since DMM's RPC payloads are small control
// messages, not bulk data (spec.md: "DMM does not move data itself").
package coordinator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tag identifies which of the three daemon-tagged handlers a message is for.
type Tag string

const (
	TagPreparer  Tag = "PREPARER"
	TagSubmitter Tag = "SUBMITTER"
	TagFinisher  Tag = "FINISHER"
)

// envelope is what crosses the wire: a tag, a raw JSON payload, and an
// HMAC computed over both using a key derived from the shared secret.
type envelope struct {
	Tag     Tag             `json:"tag"`
	Payload jsoniter.RawMessage `json:"payload"`
	MAC     []byte          `json:"mac"`
}

const maxFrameSize = 64 * 1024 * 1024

// deriveKey stretches the raw authkey-file bytes into a fixed-size HMAC key
// via HKDF (golang.org/x/crypto/hkdf), rather than using the file contents
// directly, so key material used on the wire is never the literal secret
// bytes stored on disk.
func deriveKey(secret []byte) []byte {
	r := hkdf.New(sha256.New, secret, nil, []byte("dmm-rpc-hmac-v1"))
	key := make([]byte, 32)
	io.ReadFull(r, key)
	return key
}

func sign(key, tag []byte, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(tag)
	mac.Write(payload)
	return mac.Sum(nil)
}

func verify(key, tag []byte, payload, mac []byte) bool {
	return hmac.Equal(mac, sign(key, tag, payload))
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded envelope.
func writeFrame(w io.Writer, key []byte, tag Tag, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "wire: marshal payload")
	}
	env := envelope{Tag: tag, Payload: raw, MAC: sign(key, []byte(tag), raw)}
	buf, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "wire: marshal envelope")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wire: write length prefix")
	}
	_, err = w.Write(buf)
	return err
}

// readFrame reads and authenticates one frame, returning the tag and raw payload.
func readFrame(r io.Reader, key []byte) (Tag, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, errors.Wrap(err, "wire: read length prefix")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameSize {
		return "", nil, fmt.Errorf("wire: invalid frame size %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", nil, errors.Wrap(err, "wire: read frame body")
	}
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return "", nil, errors.Wrap(err, "wire: unmarshal envelope")
	}
	if !verify(key, []byte(env.Tag), env.Payload, env.MAC) {
		return "", nil, errors.New("wire: authentication failed")
	}
	return env.Tag, env.Payload, nil
}
