package protocol

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/sha3"
)

// ProgramID is the address the account discriminators are keyed with.
var ProgramID = solana.MustPublicKeyFromBase58("MNFSTqtC93rEfYHB6hF82sKdZpUDFWkViLByLd1k1Ms")

// Account discriminants stored in the first 8 bytes of each fixed header.
const (
	MarketFixedDiscriminant uint64 = 4859840929024028656
	GlobalFixedDiscriminant uint64 = 10787423733276977665
)

// Discriminator returns the first 8 bytes of keccak256(programID || name).
// name is the namespaced type name, e.g. "manifest::logs::FillLog".
func Discriminator(programID solana.PublicKey, name string) [8]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(programID.Bytes())
	h.Write([]byte(name))
	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DiscriminatorU64 reads a discriminator as the little-endian u64 stored in headers.
func DiscriminatorU64(programID solana.PublicKey, name string) uint64 {
	d := Discriminator(programID, name)
	return binary.LittleEndian.Uint64(d[:])
}

// Event log discriminators. Every log record on the wire starts with one of these.
var (
	CreateMarketLogDiscriminator    = [8]byte{33, 31, 11, 6, 133, 143, 39, 71}
	ClaimSeatLogDiscriminator       = [8]byte{129, 77, 152, 210, 218, 144, 163, 56}
	DepositLogDiscriminator         = [8]byte{23, 214, 24, 34, 52, 104, 109, 188}
	WithdrawLogDiscriminator        = [8]byte{112, 218, 111, 63, 18, 95, 136, 35}
	FillLogDiscriminator            = [8]byte{58, 230, 242, 3, 75, 113, 4, 169}
	PlaceOrderLogDiscriminator      = [8]byte{157, 118, 247, 213, 47, 19, 164, 120}
	CancelOrderLogDiscriminator     = [8]byte{22, 65, 71, 33, 244, 235, 255, 215}
	GlobalCreateLogDiscriminator    = [8]byte{188, 25, 199, 77, 26, 15, 142, 193}
	GlobalAddTraderLogDiscriminator = [8]byte{129, 246, 90, 94, 87, 186, 242, 7}
	GlobalClaimSeatLogDiscriminator = [8]byte{164, 46, 227, 175, 3, 143, 73, 86}
	GlobalDepositLogDiscriminator   = [8]byte{16, 26, 72, 1, 145, 232, 182, 71}
	GlobalWithdrawLogDiscriminator  = [8]byte{206, 118, 67, 64, 124, 109, 157, 201}
	GlobalEvictLogDiscriminator     = [8]byte{250, 180, 155, 38, 98, 223, 82, 223}
	GlobalCleanupLogDiscriminator   = [8]byte{193, 249, 115, 186, 42, 126, 196, 82}

	// ExpireOrderLog has no on-chain counterpart; it is derived from its type name.
	ExpireOrderLogDiscriminator = Discriminator(ProgramID, "manifest::logs::ExpireOrderLog")
)
