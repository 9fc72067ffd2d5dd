package match

import (
	"encoding/hex"
	"hash/crc32"
	"io"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/zeebo/blake3"
)

// SnapshotMetadata holds the global metadata for a snapshot (stored in metadata.json).
type SnapshotMetadata struct {
	SchemaVersion      int    `json:"schema_version"`
	Timestamp          int64  `json:"timestamp"`              // Unix Nano
	GlobalLastCmdSeqID uint64 `json:"global_last_cmd_seq_id"` // Global MQ offset to resume from
	LastLogSeqID       uint64 `json:"last_log_seq_id"`
	EngineVersion      string `json:"engine_version"`
	SnapshotChecksum   uint32 `json:"snapshot_checksum"` // CRC32 of the entire snapshot.bin file
	// Fingerprint is the hex blake3 digest of every account, see Accounts.Fingerprint.
	Fingerprint string `json:"fingerprint"`
}

// SnapshotFileFooter is the footer structure stored at the end of snapshot.bin.
// Layout: [AccountBytes...][FooterJSON][FooterLength(4 bytes)]
type SnapshotFileFooter struct {
	Accounts []AccountSegment `json:"accounts"`
}

// AccountSegment locates one serialized account inside snapshot.bin.
type AccountSegment struct {
	Account  string `json:"account"`
	Kind     string `json:"kind"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Checksum uint32 `json:"checksum"`
}

// accountImage is an account captured on the consumer goroutine.
type accountImage struct {
	address solana.PublicKey
	kind    string
	data    []byte
}

// fingerprint digests images in the order given.
func fingerprint(images []accountImage) string {
	h := blake3.New()
	for _, img := range images {
		_, _ = h.Write(img.address[:])
		_, _ = h.Write(img.data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a blake3 digest over every account's address and bytes,
// in address order. Two registries with the same fingerprint hold the same state.
func (a *Accounts) Fingerprint() (string, error) {
	images, err := a.images()
	if err != nil {
		return "", err
	}
	return fingerprint(images), nil
}

func (a *Accounts) images() ([]accountImage, error) {
	addrs := a.Addresses()
	out := make([]accountImage, 0, len(addrs))
	for _, addr := range addrs {
		data, err := a.Bytes(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, accountImage{address: addr, kind: a.Kind(addr), data: data})
	}
	return out, nil
}

func calculateFileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
