package consensus

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/types"
)

// signatureLength is the size of an [R || S || V] secp256k1 signature.
const signatureLength = 65

// Call is one invocation handed over by the execution substrate. Caller is
// already authenticated; Height and Timestamp are the canonical chain context.
type Call struct {
	Caller    thor.Address
	Height    uint64
	Timestamp uint64
	Command   Command
}

// SigningHash covers the chain context and the command, not the caller.
func (c *Call) SigningHash() (thor.Bytes32, error) {
	data, err := rlp.EncodeToBytes([]any{c.Height, c.Timestamp, c.Command.Name(), c.Command})
	if err != nil {
		return thor.Bytes32{}, errors.Wrap(err, "encode call")
	}
	return thor.Blake2b(data), nil
}

// SignedCall is a call whose caller is proven by a secp256k1 signature, for
// substrates that leave authentication to this package.
type SignedCall struct {
	Call      Call
	Signature []byte
}

// Sign signs call with key and sets the caller to the key's address.
func Sign(call Call, key *ecdsa.PrivateKey) (*SignedCall, error) {
	call.Caller = thor.Address(crypto.PubkeyToAddress(key.PublicKey))
	hash, err := call.SigningHash()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, errors.Wrap(err, "sign call")
	}
	return &SignedCall{Call: call, Signature: sig}, nil
}

// Recover returns the call with its caller set to the signer.
func (sc *SignedCall) Recover() (Call, error) {
	hash, err := sc.Call.SigningHash()
	if err != nil {
		return Call{}, err
	}
	signer, err := recoverAddress(hash, sc.Signature)
	if err != nil {
		return Call{}, err
	}
	call := sc.Call
	call.Caller = signer
	return call, nil
}

// RecoverSigner returns the address that produced sig over hash.
func RecoverSigner(hash thor.Bytes32, sig []byte) (thor.Address, error) {
	return recoverAddress(hash, sig)
}

func recoverAddress(hash thor.Bytes32, sig []byte) (thor.Address, error) {
	if len(sig) != signatureLength {
		return thor.Address{}, errors.Wrapf(errs.ErrBadSignature, "signature length %d", len(sig))
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return thor.Address{}, errors.Wrap(errs.ErrBadSignature, err.Error())
	}
	return thor.Address(crypto.PubkeyToAddress(*pub)), nil
}

// SlotSigningHash is what a miner signs when packaging the out value of a slot.
func SlotSigningHash(r *types.Round, slot uint64, out thor.Bytes32) thor.Bytes32 {
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], slot)
	roundHash := r.SigningHash()
	return thor.Blake2b(roundHash.Bytes(), s[:], out.Bytes())
}

// SignSlot signs the out value of a slot with key.
func SignSlot(r *types.Round, slot uint64, out thor.Bytes32, key *ecdsa.PrivateKey) ([]byte, error) {
	hash := SlotSigningHash(r, slot, out)
	return crypto.Sign(hash.Bytes(), key)
}
