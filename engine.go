package match

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/xid"

	"github.com/0x5487/manifest-engine/protocol"
	"github.com/0x5487/manifest-engine/storage"
)

// MetadataRequestID is the Command metadata key carrying the request id.
const MetadataRequestID = "request_id"

// SlotClock supplies the slot instructions are evaluated at.
type SlotClock interface {
	Slot() uint32
}

// SystemClock counts slots of fixed duration since Genesis.
type SystemClock struct {
	Genesis      time.Time
	SlotDuration time.Duration
}

func (c SystemClock) Slot() uint32 {
	elapsed := time.Since(c.Genesis)
	if elapsed < 0 || c.SlotDuration <= 0 {
		return 0
	}
	return uint32(elapsed / c.SlotDuration)
}

// ManualClock is a clock that only moves when told to, useful for testing.
type ManualClock struct {
	slot atomic.Uint32
}

func NewManualClock(slot uint32) *ManualClock {
	c := &ManualClock{}
	c.slot.Store(slot)
	return c
}

func (c *ManualClock) Slot() uint32 {
	return c.slot.Load()
}

func (c *ManualClock) Set(slot uint32) {
	c.slot.Store(slot)
}

func (c *ManualClock) Advance(n uint32) {
	c.slot.Add(n)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithClock(c SlotClock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithStore persists every touched account after each committed instruction.
func WithStore(s storage.Store) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

func WithPublishLog(p PublishLog) EngineOption {
	return func(e *Engine) {
		e.publish = p
	}
}

// Engine owns the account registry and applies instructions one at a time on
// a single consumer goroutine fed by a ring buffer.
type Engine struct {
	cfg       *Config
	clock     SlotClock
	store     storage.Store
	publish   PublishLog
	log       *slog.Logger
	accounts  *Accounts
	processor *Processor
	ring      *RingBuffer[*InputEvent]

	started    atomic.Bool
	isShutdown atomic.Bool

	// consumer goroutine only
	lastCmdSeqID uint64
	lastLogSeqID uint64

	serializer protocol.Serializer
}

// NewEngine creates an engine. Call Recover or RestoreFromSnapshot before
// Start to resume from persisted state.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		clock:      SystemClock{Genesis: time.Now(), SlotDuration: cfg.SlotDuration},
		publish:    NewDiscardPublishLog(),
		log:        NewLogger(os.Stdout, cfg.LogLevel, cfg.ProgramID),
		accounts:   NewAccounts(cfg.ProgramID),
		serializer: &protocol.DefaultJSONSerializer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.processor = NewProcessor(e.accounts, cfg)
	e.ring = NewRingBuffer[*InputEvent](cfg.RingBufferSize, e)
	return e, nil
}

// Start launches the consumer goroutine.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.ring.Start()
	e.log.Info("engine started", "accounts", e.accounts.Len(), "last_cmd_seq_id", e.lastCmdSeqID)
}

// Shutdown stops accepting instructions and waits for the queued ones to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.isShutdown.Store(true)
	if !e.started.Load() {
		return nil
	}
	if err := e.ring.Shutdown(ctx); err != nil {
		return err
	}
	e.log.Info("engine stopped", "last_cmd_seq_id", e.lastCmdSeqID, "last_log_seq_id", e.lastLogSeqID)
	return nil
}

func ensureRequestID(cmd *protocol.Command) string {
	if id := cmd.Metadata[MetadataRequestID]; id != "" {
		return id
	}
	if cmd.Metadata == nil {
		cmd.Metadata = make(map[string]string, 1)
	}
	id := xid.New().String()
	cmd.Metadata[MetadataRequestID] = id
	return id
}

func (e *Engine) publishEvent(ev *InputEvent) error {
	if e.isShutdown.Load() {
		return ErrShutdown
	}
	return e.ring.Publish(ev)
}

// Execute applies cmd and waits for its result. The logs in the result are
// owned by the caller.
func (e *Engine) Execute(ctx context.Context, cmd *protocol.Command) (*ProcessResult, error) {
	ensureRequestID(cmd)
	resp := make(chan *Response, 1)
	if err := e.publishEvent(&InputEvent{Cmd: cmd, Resp: resp}); err != nil {
		return nil, err
	}
	select {
	case r := <-resp:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Submit queues cmd without waiting. Its outcome is only visible through the
// published logs.
func (e *Engine) Submit(cmd *protocol.Command) error {
	ensureRequestID(cmd)
	return e.publishEvent(&InputEvent{Cmd: cmd})
}

// Query runs fn on the consumer goroutine, between instructions.
func (e *Engine) Query(ctx context.Context, fn func(*Accounts) any) (any, error) {
	resp := make(chan *Response, 1)
	if err := e.publishEvent(&InputEvent{Query: fn, Resp: resp}); err != nil {
		return nil, err
	}
	select {
	case r := <-resp:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Depth returns the L2 book of market.
func (e *Engine) Depth(ctx context.Context, market solana.PublicKey, limit int) (*protocol.GetDepthResponse, error) {
	v, err := e.Query(ctx, func(a *Accounts) any {
		m, ok := a.Market(market)
		if !ok {
			return fmt.Errorf("%w: no market at %s", ErrInvalidAccount, market)
		}
		return m.Depth(limit)
	})
	if err != nil {
		return nil, err
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v.(*protocol.GetDepthResponse), nil
}

// OnEvent handles one event on the consumer goroutine.
func (e *Engine) OnEvent(ev *InputEvent) {
	if ev.Query != nil {
		data := ev.Query(e.accounts)
		if ev.Resp != nil {
			ev.Resp <- &Response{Data: data}
		}
		return
	}
	res, err := e.handleCommand(ev.Cmd)
	if ev.Resp != nil {
		ev.Resp <- &Response{Result: res, Err: err}
	}
}

func (e *Engine) handleCommand(cmd *protocol.Command) (*ProcessResult, error) {
	requestID := cmd.Metadata[MetadataRequestID]
	if cmd.SeqID != 0 {
		if cmd.SeqID <= e.lastCmdSeqID {
			return nil, fmt.Errorf("%w: seq %d, last %d", ErrDuplicateCommand, cmd.SeqID, e.lastCmdSeqID)
		}
		e.lastCmdSeqID = cmd.SeqID
	}

	res, err := e.processor.Process(cmd, e.clock.Slot())
	if err != nil {
		code, _ := ErrorCode(err)
		e.log.Warn("instruction rejected",
			"request_id", requestID,
			"instruction", cmd.Type.String(),
			"account", cmd.Account,
			"code", code,
			"error", err)
		return nil, err
	}

	if err := e.persist(res); err != nil {
		e.log.Error("persist accounts failed", "request_id", requestID, "error", err)
		e.release(res.Logs)
		res.Logs = nil
		return res, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	for _, log := range res.Logs {
		e.lastLogSeqID++
		log.SequenceID = e.lastLogSeqID
		log.RequestID = requestID
	}
	e.publish.Publish(res.Logs...)

	// the pooled logs are recycled, the caller gets copies
	owned := make([]*MarketLog, len(res.Logs))
	for i, log := range res.Logs {
		owned[i] = cloneLog(log)
	}
	e.release(res.Logs)
	res.Logs = owned
	return res, nil
}

func (e *Engine) release(logs []*MarketLog) {
	for _, log := range logs {
		ReleaseMarketLog(log)
	}
}

func (e *Engine) persist(res *ProcessResult) error {
	if e.store == nil {
		return nil
	}
	accs := make([]storage.Account, 0, len(res.Touched))
	for _, addr := range res.Touched {
		data, err := e.accounts.Bytes(addr)
		if err != nil {
			return err
		}
		accs = append(accs, storage.Account{Address: addr, Data: data})
	}
	return e.store.SaveAccounts(accs, e.lastCmdSeqID)
}

// Recover loads every account from the store. It must run before Start.
func (e *Engine) Recover() (uint64, error) {
	if e.started.Load() {
		return 0, ErrEngineStarted
	}
	if e.store == nil {
		return 0, nil
	}
	accs, lastSeq, err := e.store.LoadAccounts()
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	for _, acc := range accs {
		if err := e.accounts.Load(acc.Address, acc.Data, e.cfg); err != nil {
			return 0, err
		}
	}
	e.lastCmdSeqID = lastSeq
	e.log.Info("engine recovered", "accounts", len(accs), "last_cmd_seq_id", lastSeq)
	return lastSeq, nil
}

type snapshotState struct {
	images       []accountImage
	lastCmdSeqID uint64
	lastLogSeqID uint64
	err          error
}

// TakeSnapshot captures every account between two instructions and writes it
// to outputDir as `snapshot.bin` and `metadata.json`. outputDir is replaced
// atomically.
func (e *Engine) TakeSnapshot(ctx context.Context, outputDir string) (*SnapshotMetadata, error) {
	v, err := e.Query(ctx, func(a *Accounts) any {
		images, err := a.images()
		return &snapshotState{images: images, lastCmdSeqID: e.lastCmdSeqID, lastLogSeqID: e.lastLogSeqID, err: err}
	})
	if err != nil {
		return nil, err
	}
	state := v.(*snapshotState)
	if state.err != nil {
		return nil, state.err
	}
	meta, err := e.writeSnapshot(outputDir, state)
	if err != nil {
		return nil, err
	}
	e.log.Info("snapshot taken", "dir", outputDir, "accounts", len(state.images), "fingerprint", meta.Fingerprint)
	return meta, nil
}

func (e *Engine) writeSnapshot(outputDir string, state *snapshotState) (*SnapshotMetadata, error) {
	// Use a temporary directory for atomic writes
	tmpDir := outputDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	binPath := filepath.Join(tmpDir, "snapshot.bin")
	binFile, err := os.Create(binPath)
	if err != nil {
		return nil, err
	}
	defer binFile.Close()

	segments := make([]AccountSegment, 0, len(state.images))
	var offset int64
	for _, img := range state.images {
		n, err := binFile.Write(img.data)
		if err != nil {
			return nil, err
		}
		segments = append(segments, AccountSegment{
			Account:  img.address.String(),
			Kind:     img.kind,
			Offset:   offset,
			Length:   int64(n),
			Checksum: crc32.ChecksumIEEE(img.data),
		})
		offset += int64(n)
	}

	footerData, err := e.serializer.Marshal(SnapshotFileFooter{Accounts: segments})
	if err != nil {
		return nil, err
	}
	if _, err := binFile.Write(footerData); err != nil {
		return nil, err
	}
	if len(footerData) > 4294967295 {
		return nil, errors.New("footer too large")
	}
	//nolint:gosec // Verified length above
	if err := binary.Write(binFile, binary.BigEndian, uint32(len(footerData))); err != nil {
		return nil, err
	}
	if err := binFile.Sync(); err != nil {
		return nil, err
	}
	if err := binFile.Close(); err != nil {
		return nil, err
	}

	snapshotChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SchemaVersion:      SnapshotSchemaVersion,
		Timestamp:          time.Now().UnixNano(),
		GlobalLastCmdSeqID: state.lastCmdSeqID,
		LastLogSeqID:       state.lastLogSeqID,
		EngineVersion:      EngineVersion,
		SnapshotChecksum:   snapshotChecksum,
		Fingerprint:        fingerprint(state.images),
	}
	metaBytes, err := e.serializer.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "metadata.json"), metaBytes, 0600); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(outputDir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		return nil, err
	}
	return meta, nil
}

// RestoreFromSnapshot replaces the registry with the accounts in inputDir.
// It must run before Start. The metadata tells the caller where to resume
// the command stream.
func (e *Engine) RestoreFromSnapshot(inputDir string) (*SnapshotMetadata, error) {
	if e.started.Load() {
		return nil, ErrEngineStarted
	}

	metaBytes, err := os.ReadFile(filepath.Join(inputDir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta SnapshotMetadata
	if err := e.serializer.Unmarshal(metaBytes, &meta); err != nil {
		return nil, err
	}
	if meta.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: snapshot schema %d, want %d", ErrSnapshotCorrupted, meta.SchemaVersion, SnapshotSchemaVersion)
	}

	binPath := filepath.Join(inputDir, "snapshot.bin")
	fileChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}
	if fileChecksum != meta.SnapshotChecksum {
		return nil, fmt.Errorf("%w: snapshot.bin checksum mismatch", ErrSnapshotCorrupted)
	}

	binFile, err := os.Open(binPath)
	if err != nil {
		return nil, err
	}
	defer binFile.Close()
	stat, err := binFile.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()
	if fileSize < 4 {
		return nil, fmt.Errorf("%w: snapshot.bin is truncated", ErrSnapshotCorrupted)
	}

	footerLenBytes := make([]byte, 4)
	if _, err := binFile.ReadAt(footerLenBytes, fileSize-4); err != nil {
		return nil, err
	}
	footerLen := int64(binary.BigEndian.Uint32(footerLenBytes))
	footerOffset := fileSize - 4 - footerLen
	if footerOffset < 0 {
		return nil, fmt.Errorf("%w: footer length %d", ErrSnapshotCorrupted, footerLen)
	}
	footerBytes := make([]byte, footerLen)
	if _, err := binFile.ReadAt(footerBytes, footerOffset); err != nil {
		return nil, err
	}
	var footer SnapshotFileFooter
	if err := e.serializer.Unmarshal(footerBytes, &footer); err != nil {
		return nil, err
	}

	accounts := NewAccounts(e.cfg.ProgramID)
	for _, seg := range footer.Accounts {
		if seg.Offset < 0 || seg.Length < 0 || seg.Offset+seg.Length > footerOffset {
			return nil, fmt.Errorf("%w: segment of %s out of range", ErrSnapshotCorrupted, seg.Account)
		}
		data := make([]byte, seg.Length)
		if _, err := binFile.ReadAt(data, seg.Offset); err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(data) != seg.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch for account %s", ErrSnapshotCorrupted, seg.Account)
		}
		addr, err := solana.PublicKeyFromBase58(seg.Account)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupted, err)
		}
		if err := accounts.Load(addr, data, e.cfg); err != nil {
			return nil, err
		}
	}

	got, err := accounts.Fingerprint()
	if err != nil {
		return nil, err
	}
	if got != meta.Fingerprint {
		return nil, fmt.Errorf("%w: fingerprint mismatch", ErrSnapshotCorrupted)
	}

	e.accounts = accounts
	e.processor = NewProcessor(accounts, e.cfg)
	e.lastCmdSeqID = meta.GlobalLastCmdSeqID
	e.lastLogSeqID = meta.LastLogSeqID
	e.log.Info("snapshot restored", "dir", inputDir, "accounts", len(footer.Accounts), "last_cmd_seq_id", meta.GlobalLastCmdSeqID)
	return &meta, nil
}
