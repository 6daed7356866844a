package factory

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault"
)

// sequentialHandle is the handle of the nonce-th sequential instance.
func sequentialHandle(factory common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(factory, nonce)
}

// deterministicHandle binds the handle to the creator, the salt, and every
// creation argument, so nobody else can occupy a predicted handle.
func deterministicHandle(factory, caller common.Address, p rsvpvault.Params, salt common.Hash) common.Address {
	key := crypto.Keccak256Hash(caller.Bytes(), salt.Bytes())
	return crypto.CreateAddress2(factory, key, crypto.Keccak256(encodeParams(p)))
}

// encodeParams lays the params out as 32-byte words: the hash of each string
// and each integer big-endian, left-padded. The cooling period is in
// nanoseconds.
func encodeParams(p rsvpvault.Params) []byte {
	out := make([]byte, 0, 5*common.HashLength)
	out = append(out, crypto.Keccak256([]byte(p.Name))...)
	out = append(out, word(p.Deposit)...)
	out = append(out, word(p.Limit)...)
	out = append(out, word(coolingNanos(p))...)
	out = append(out, crypto.Keccak256([]byte(p.MetadataRef))...)
	return out
}

func word(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return common.LeftPadBytes(buf[:], common.HashLength)
}

func coolingNanos(p rsvpvault.Params) uint64 {
	if p.CoolingPeriod <= 0 {
		return 0
	}
	return uint64(p.CoolingPeriod)
}
