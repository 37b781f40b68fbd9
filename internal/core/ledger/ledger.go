package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ugorji/go/codec"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/storage/kv"
)

// ErrCorrupted marks a chain whose stored tail hash no longer matches its
// recomputed hash. Appending on a corrupted chain is refused.
var ErrCorrupted = errors.New("ledger corruption detected")

// Defaults for publication and retention.
const (
	DefaultPublishRetries = 5
	DefaultPublishBackoff = 500 * time.Millisecond
	DefaultPublishTimeout = 5 * time.Second
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultCacheSize      = 1024

	publishNamespace = "ledger"
)

var jsonHandle = &codec.JsonHandle{}

// Options configure a Ledger.
type Options struct {
	NodeID         string
	Retention      time.Duration
	PublishRetries int
	PublishBackoff time.Duration
	PublishTimeout time.Duration
	CacheSize      int

	// SyncPublish makes publication run inline with the append instead of
	// in the background. Tests and the replay path use it.
	SyncPublish bool
}

func (o *Options) fill() {
	if o.NodeID == "" {
		o.NodeID = "node-local"
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.PublishRetries <= 0 {
		o.PublishRetries = DefaultPublishRetries
	}
	if o.PublishBackoff <= 0 {
		o.PublishBackoff = DefaultPublishBackoff
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
}

// CacheStats reports read-cache effectiveness.
type CacheStats struct {
	Hits   uint64  `json:"hits"`
	Misses uint64  `json:"misses"`
	Rate   float64 `json:"rate"`
}

// Report is the outcome of verifying one execution's chain.
type Report struct {
	ExecutionID  string   `json:"execution_id"`
	ChainValid   bool     `json:"chain_valid"`
	TotalRecords int      `json:"total_records"`
	BrokenAt     string   `json:"broken_at,omitempty"`
	Orphans      []string `json:"orphans,omitempty"`
}

// Ledger is the single-writer, hash-chained record store. Appends are
// serialized; reads go through an LRU cache over the kv backend.
type Ledger struct {
	mu     sync.Mutex
	db     kv.DB
	crypto ports.Crypto
	store  ports.ContentStorage
	bus    ports.EventBus
	clock  clock.Clock
	ids    clock.IDGenerator
	logger *log.Logger
	opts   Options

	vclock   clock.VectorClock
	seq      uint64
	lastID   string
	lastHash string

	cache  *lru.Cache[string, Record]
	hits   atomic.Uint64
	misses atomic.Uint64

	pubWG       sync.WaitGroup
	pubFailures atomic.Uint64
}

// New opens a ledger over db, recovering the tail of any existing chain.
func New(db kv.DB, crypto ports.Crypto, store ports.ContentStorage, bus ports.EventBus,
	clk clock.Clock, ids clock.IDGenerator, logger *log.Logger, opts Options) (*Ledger, error) {
	opts.fill()

	cache, err := lru.New[string, Record](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: cache: %w", err)
	}

	l := &Ledger{
		db:     db,
		crypto: crypto,
		store:  store,
		bus:    bus,
		clock:  clk,
		ids:    ids,
		logger: logger,
		opts:   opts,
		vclock: clock.NewVectorClock(),
		cache:  cache,
	}
	if err := l.recover(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// recover rebuilds the in-memory tail from the stored records. The sequence
// counter resumes from the highest stored key so retention holes are never
// reused.
func (l *Ledger) recover(ctx context.Context) error {
	iter, err := l.db.Iterator(ctx, []byte("rec/"), []byte("rec0"))
	if err != nil {
		return err
	}
	defer iter.Close()

	var lastKey string
	var tail Record
	found := false
	for iter.Next() {
		record, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		lastKey = string(iter.Key())
		tail = record
		found = true
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if !found {
		return nil
	}

	var seq uint64
	if _, err := fmt.Sscanf(lastKey, "rec/%016d", &seq); err != nil {
		return fmt.Errorf("ledger: malformed record key %q: %w", lastKey, err)
	}
	l.seq = seq
	l.lastID = tail.ID
	l.lastHash = tail.Hash
	l.vclock = tail.Clock.Copy()
	return nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("rec/%016d", seq))
}

func idKey(id string) []byte {
	return []byte("id/" + id)
}

// Append creates a record for executionID, links it to the current tail and
// persists it. Publication to content-addressed storage happens after the
// append commits and never fails it.
func (l *Ledger) Append(ctx context.Context, executionID string, summary Summary) (Record, error) {
	const op = "ledger.append"
	if executionID == "" {
		return Record{}, fault.New(fault.KindValidation, op, "execution id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Recompute the tail hash before extending the chain.
	if l.lastID != "" {
		tail, err := l.getLocked(ctx, l.lastID)
		if err != nil {
			return Record{}, fault.Wrap(fault.KindInternal, op, "read chain tail", err)
		}
		recomputed, err := recordHash(l.crypto, tail)
		if err != nil {
			return Record{}, fault.Wrap(fault.KindInternal, op, "hash chain tail", err)
		}
		if recomputed != tail.Hash {
			l.emitCritical(executionID, tail.ID)
			return Record{}, fault.Wrap(fault.KindIntegrityViolation, op,
				fmt.Sprintf("tail record %s hash mismatch", tail.ID), ErrCorrupted)
		}
	}

	l.vclock.Tick(l.opts.NodeID)
	record := Record{
		ID:          l.ids.New(),
		ExecutionID: executionID,
		Timestamp:   l.clock.NowMillis(),
		NodeID:      l.opts.NodeID,
		Clock:       l.vclock.Copy(),
		PrevHash:    l.lastHash,
		Summary:     summary,
	}
	hash, err := recordHash(l.crypto, record)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindInternal, op, "hash record", err)
	}
	record.Hash = hash

	seq := l.seq + 1
	if err := l.put(ctx, seq, record); err != nil {
		return Record{}, fault.Wrap(fault.KindInternal, op, "persist record", err)
	}
	l.seq = seq
	l.lastID = record.ID
	l.lastHash = record.Hash
	l.cache.Add(record.ID, record)

	l.emit("dataflow.ledger.recorded", map[string]any{
		"record_id":    record.ID,
		"execution_id": executionID,
		"hash":         record.Hash,
	})

	if l.opts.SyncPublish {
		l.publishLocked(record, seq)
	} else {
		l.pubWG.Add(1)
		go func() {
			defer l.pubWG.Done()
			l.publishAsync(record, seq)
		}()
	}
	return record, nil
}

// attemptPut pushes a record's encoding to content-addressed storage with
// exponential backoff. It holds no locks.
func (l *Ledger) attemptPut(record Record) (string, bool) {
	data, err := encodeRecord(record)
	if err != nil {
		return "", false
	}
	delay := l.opts.PublishBackoff
	for attempt := 1; attempt <= l.opts.PublishRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.PublishTimeout)
		address, err := l.store.Put(ctx, data, record.ID, publishNamespace)
		cancel()
		if err == nil {
			return address, true
		}
		if l.logger != nil {
			l.logger.Printf("ledger: publish %s attempt %d: %v", record.ID, attempt, err)
		}
		if attempt < l.opts.PublishRetries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return "", false
}

// commitAddress sets the content address exactly once. The caller holds the
// lock.
func (l *Ledger) commitAddress(record Record, seq uint64, address string) {
	record.ContentAddress = address
	record.Published = true
	if err := l.put(context.Background(), seq, record); err == nil {
		l.cache.Add(record.ID, record)
	}
}

// publishAsync runs publication in the background after an append commits.
func (l *Ledger) publishAsync(record Record, seq uint64) {
	address, ok := l.attemptPut(record)
	if !ok {
		l.pubFailures.Add(1)
		return
	}
	l.mu.Lock()
	l.commitAddress(record, seq, address)
	l.mu.Unlock()
}

// publishLocked is the inline variant; the caller already holds the lock.
func (l *Ledger) publishLocked(record Record, seq uint64) {
	address, ok := l.attemptPut(record)
	if !ok {
		l.pubFailures.Add(1)
		return
	}
	l.commitAddress(record, seq, address)
}

// Get returns a record by ID.
func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	if record, ok := l.cache.Get(id); ok {
		l.hits.Add(1)
		return record, nil
	}
	l.misses.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(ctx, id)
}

func (l *Ledger) getLocked(ctx context.Context, id string) (Record, error) {
	if record, ok := l.cache.Get(id); ok {
		return record, nil
	}
	seqRef, err := l.db.Read(ctx, idKey(id))
	if err != nil {
		if kv.IsNotFound(err) {
			return Record{}, fault.New(fault.KindNotFound, "ledger.get", "record "+id)
		}
		return Record{}, err
	}
	raw, err := l.db.Read(ctx, seqRef)
	if err != nil {
		return Record{}, err
	}
	record, err := decodeRecord(raw)
	if err != nil {
		return Record{}, err
	}
	l.cache.Add(id, record)
	return record, nil
}

// Records returns the records of one execution in append order.
func (l *Ledger) Records(ctx context.Context, executionID string) ([]Record, error) {
	all, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, record := range all {
		if record.ExecutionID == executionID {
			out = append(out, record)
		}
	}
	return out, nil
}

// Verify recomputes every hash of one execution's records and checks
// previous-hash linkage in timestamp order. Orphans are records whose
// non-empty previous hash matches nothing in the ledger.
func (l *Ledger) Verify(ctx context.Context, executionID string) (Report, error) {
	all, err := l.scan(ctx)
	if err != nil {
		return Report{}, fault.Wrap(fault.KindInternal, "ledger.verify", "scan", err)
	}

	byHash := make(map[string]Record, len(all))
	for _, record := range all {
		byHash[record.Hash] = record
	}

	var chain []Record
	for _, record := range all {
		if record.ExecutionID == executionID {
			chain = append(chain, record)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Timestamp < chain[j].Timestamp })

	report := Report{ExecutionID: executionID, ChainValid: true, TotalRecords: len(chain)}
	for _, record := range chain {
		recomputed, err := recordHash(l.crypto, record)
		if err != nil {
			return Report{}, fault.Wrap(fault.KindInternal, "ledger.verify", "hash record", err)
		}
		if recomputed != record.Hash && report.ChainValid {
			report.ChainValid = false
			report.BrokenAt = record.ID
		}
		if record.PrevHash != "" {
			if _, ok := byHash[record.PrevHash]; !ok {
				report.Orphans = append(report.Orphans, record.ID)
			}
		}
	}

	// Linkage: each record after the first must descend from its
	// predecessor through the global chain.
	for i := 1; i < len(chain) && report.ChainValid; i++ {
		if !descends(byHash, chain[i], chain[i-1]) {
			report.ChainValid = false
			report.BrokenAt = chain[i].ID
		}
	}

	l.emit("dataflow.ledger.verified", map[string]any{
		"execution_id": executionID,
		"chain_valid":  report.ChainValid,
		"records":      report.TotalRecords,
	})
	return report, nil
}

// descends walks previous-hash links from later back to earlier.
func descends(byHash map[string]Record, later, earlier Record) bool {
	cursor := later.PrevHash
	for steps := 0; cursor != "" && steps <= len(byHash); steps++ {
		if cursor == earlier.Hash {
			return true
		}
		prev, ok := byHash[cursor]
		if !ok {
			return false
		}
		cursor = prev.PrevHash
	}
	return false
}

// Sweep removes entire chains whose newest record is older than the
// retention window. It never removes part of a chain.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter, err := l.db.Iterator(ctx, []byte("rec/"), []byte("rec0"))
	if err != nil {
		return 0, err
	}
	type stored struct {
		key    []byte
		record Record
	}
	var all []stored
	for iter.Next() {
		record, err := decodeRecord(iter.Value())
		if err != nil {
			iter.Close()
			return 0, err
		}
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		all = append(all, stored{key: key, record: record})
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}
	iter.Close()

	newest := make(map[string]int64)
	for _, s := range all {
		if s.record.Timestamp > newest[s.record.ExecutionID] {
			newest[s.record.ExecutionID] = s.record.Timestamp
		}
	}
	cutoff := l.clock.NowMillis() - l.opts.Retention.Milliseconds()

	var ops []kv.BatchOperation
	removed := 0
	for _, s := range all {
		if newest[s.record.ExecutionID] >= cutoff {
			continue
		}
		ops = append(ops,
			kv.BatchOperation{Type: kv.BatchDelete, Key: s.key},
			kv.BatchOperation{Type: kv.BatchDelete, Key: idKey(s.record.ID)})
		l.cache.Remove(s.record.ID)
		removed++
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := l.db.Batch(ctx, ops); err != nil {
		return 0, fault.Wrap(fault.KindInternal, "ledger.sweep", "delete chains", err)
	}
	return removed, nil
}

// Stats returns cache effectiveness counters.
func (l *Ledger) Stats() CacheStats {
	hits, misses := l.hits.Load(), l.misses.Load()
	stats := CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.Rate = float64(hits) / float64(total)
	}
	return stats
}

// PublishFailures returns how many records exhausted their publication
// retries.
func (l *Ledger) PublishFailures() uint64 {
	return l.pubFailures.Load()
}

// Close waits for in-flight publications.
func (l *Ledger) Close() {
	l.pubWG.Wait()
}

// scan reads every record in append order.
func (l *Ledger) scan(ctx context.Context) ([]Record, error) {
	iter, err := l.db.Iterator(ctx, []byte("rec/"), []byte("rec0"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.Next() {
		record, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, iter.Error()
}

// put writes a record under both its sequence key and its ID key.
func (l *Ledger) put(ctx context.Context, seq uint64, record Record) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	return l.db.Batch(ctx, []kv.BatchOperation{
		{Type: kv.BatchPut, Key: seqKey(seq), Value: data},
		{Type: kv.BatchPut, Key: idKey(record.ID), Value: seqKey(seq)},
	})
}

func encodeRecord(record Record) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(record); err != nil {
		return nil, fmt.Errorf("ledger: encode %s: %w", record.ID, err)
	}
	return out, nil
}

func decodeRecord(data []byte) (Record, error) {
	var record Record
	if err := codec.NewDecoderBytes(data, jsonHandle).Decode(&record); err != nil {
		return Record{}, fmt.Errorf("ledger: decode record: %w", err)
	}
	return record, nil
}

// emit publishes an event when a bus is wired.
func (l *Ledger) emit(topic string, payload map[string]any) {
	if l.bus == nil {
		return
	}
	_ = l.bus.Publish(topic, ports.Envelope{
		ID:        l.ids.New(),
		Topic:     topic,
		Timestamp: l.clock.NowMillis(),
		Actor:     ports.Actor{Identity: l.opts.NodeID, Role: "system"},
		Payload:   payload,
	})
}

// emitCritical raises the chain-break observability event.
func (l *Ledger) emitCritical(executionID, recordID string) {
	if l.logger != nil {
		l.logger.Printf("ledger: CRITICAL chain break at record %s (execution %s)", recordID, executionID)
	}
	l.emit("dataflow.ledger.corrupted", map[string]any{
		"execution_id": executionID,
		"record_id":    recordID,
		"severity":     "critical",
	})
}
