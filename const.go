package match

import "github.com/0x5487/manifest-engine/structure"

const (
	// EngineVersion is the current version of the engine
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1
)

// Account layout constants. Block sizes include the 16-byte tree node header.
const (
	MarketFixedSize   = 256
	MarketBlockSize   = 80
	MarketPayloadSize = MarketBlockSize - structure.NodeHeaderSize

	GlobalFixedSize   = 96
	GlobalBlockSize   = 64
	GlobalPayloadSize = GlobalBlockSize - structure.NodeHeaderSize

	// NoExpirationLastValidSlot marks an order that never expires.
	NoExpirationLastValidSlot uint32 = 0
)

// Payload type tags stored in each node header.
const (
	payloadTypeFree         uint8 = 0
	payloadTypeClaimedSeat  uint8 = 1
	payloadTypeRestingOrder uint8 = 2

	payloadTypeGlobalTrader  uint8 = 1
	payloadTypeGlobalDeposit uint8 = 2
)

// Seeds for program-derived addresses.
const (
	vaultSeed       = "vault"
	globalSeed      = "global"
	globalVaultSeed = "global-vault"
)
