package dposcore

import (
	"crypto/ecdsa"
	"encoding/json"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/consensus"
)

// Line is one call of a replay file. Either Caller or Key identifies the
// caller; with a Key, PackageOutValue calls without a signature are signed.
type Line struct {
	Caller    *thor.Address   `json:"caller,omitempty"`
	Key       hexutil.Bytes   `json:"key,omitempty"`
	Height    uint64          `json:"height"`
	Timestamp uint64          `json:"timestamp"`
	Op        string          `json:"op"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Decoded is a line turned into a call.
type Decoded struct {
	Call consensus.Call
	Key  *ecdsa.PrivateKey
}

func (l *Line) Decode() (*Decoded, error) {
	cmd, err := consensus.DecodeCommand(l.Op, l.Params)
	if err != nil {
		return nil, err
	}
	d := &Decoded{Call: consensus.Call{Height: l.Height, Timestamp: l.Timestamp, Command: cmd}}

	switch {
	case len(l.Key) > 0:
		key, err := crypto.ToECDSA(l.Key)
		if err != nil {
			return nil, errors.Wrap(err, "invalid key")
		}
		d.Key = key
		d.Call.Caller = thor.Address(crypto.PubkeyToAddress(key.PublicKey))
		if l.Caller != nil && *l.Caller != d.Call.Caller {
			return nil, errors.Errorf("caller %s does not match key address %s", *l.Caller, d.Call.Caller)
		}
	case l.Caller != nil:
		d.Call.Caller = *l.Caller
	default:
		return nil, errors.New("line has neither caller nor key")
	}
	return d, nil
}

// Reader yields the lines of a replay file. Lines are concatenated JSON
// objects, normally one per line.
type Reader struct {
	dec  *json.Decoder
	line int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// Next returns the next line, or io.EOF when the input is exhausted.
func (r *Reader) Next() (*Line, error) {
	if !r.dec.More() {
		return nil, io.EOF
	}
	r.line++
	var l Line
	if err := r.dec.Decode(&l); err != nil {
		return nil, errors.Wrapf(err, "replay entry %d", r.line)
	}
	return &l, nil
}

// Index is the 1-based position of the last entry returned.
func (r *Reader) Index() int {
	return r.line
}
