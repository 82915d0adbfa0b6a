package consensus

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
)

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	call := Call{Height: 3, Timestamp: 1234, Command: &Vote{Candidate: thor.MustParseAddress("0x00000000000000000000000000000000000000cc"), Amount: 5, LockDays: 7}}
	sc, err := Sign(call, key)
	require.NoError(t, err)
	assert.Equal(t, addressOf(key), sc.Call.Caller)

	// the caller field is not trusted
	sc.Call.Caller = thor.Address{}
	recovered, err := sc.Recover()
	require.NoError(t, err)
	assert.Equal(t, addressOf(key), recovered.Caller)

	sc.Call.Timestamp++
	tampered, err := sc.Recover()
	if err == nil {
		assert.NotEqual(t, addressOf(key), tampered.Caller)
	}

	sc.Signature = sc.Signature[:10]
	_, err = sc.Recover()
	assert.ErrorIs(t, err, errs.ErrBadSignature)
}

func TestExecuteSigned(t *testing.T) {
	c := newTestChain(t)
	sc, err := Sign(Call{Height: 1, Timestamp: genesisTime, Command: &InitialTerm{Miners: c.miners, Term: 1}}, c.keys[2])
	require.NoError(t, err)

	receipt, err := c.engine.ExecuteSigned(sc)
	require.NoError(t, err)
	assert.Equal(t, c.miners[2].String(), receipt.Caller)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand("Vote", json.RawMessage(`{"candidate":"0x00000000000000000000000000000000000000cc","amount":100,"lockDays":30}`))
	require.NoError(t, err)
	vote, ok := cmd.(*Vote)
	require.True(t, ok)
	assert.Equal(t, uint64(100), vote.Amount)
	assert.Equal(t, uint64(30), vote.LockDays)

	cmd, err = DecodeCommand("PackageOutValue", json.RawMessage(`{"round":2,"slot":1,"outValue":"0x0000000000000000000000000000000000000000000000000000000000000001","signature":"0x0102"}`))
	require.NoError(t, err)
	pkg := cmd.(*PackageOutValue)
	assert.Equal(t, []byte{1, 2}, []byte(pkg.Signature))
	assert.Equal(t, byte(1), pkg.OutValue[31])

	cmd, err = DecodeCommand("ClaimDividends", nil)
	require.NoError(t, err)
	assert.Equal(t, "ClaimDividends", cmd.Name())

	_, err = DecodeCommand("Transfer", nil)
	assert.ErrorIs(t, err, errs.ErrUnknownCommand)

	_, err = DecodeCommand("Vote", json.RawMessage(`{"amount":"lots"}`))
	assert.ErrorIs(t, err, errs.ErrUnknownCommand)
}
