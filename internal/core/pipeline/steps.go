// Package pipeline runs ordered transformation steps with per-step timing
// and hash linkage, feeding one ledger record per execution. The canonical
// forward chain is compress, encrypt, index, audit, store; the inverse is
// retrieve, verify, decrypt, decompress.
package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/pierrec/lz4"

	"github.com/qinfinity/qcored/internal/fault"
	"github.com/qinfinity/qcored/internal/ports"
)

// StepKind identifies one transformation in the closed step set.
type StepKind int

const (
	StepCompress StepKind = iota
	StepEncrypt
	StepIndex
	StepAudit
	StepStore
	StepRetrieve
	StepVerify
	StepDecrypt
	StepDecompress
)

// String returns the step name.
func (k StepKind) String() string {
	switch k {
	case StepCompress:
		return "compress"
	case StepEncrypt:
		return "encrypt"
	case StepIndex:
		return "index"
	case StepAudit:
		return "audit"
	case StepStore:
		return "store"
	case StepRetrieve:
		return "retrieve"
	case StepVerify:
		return "verify"
	case StepDecrypt:
		return "decrypt"
	case StepDecompress:
		return "decompress"
	default:
		return "unknown"
	}
}

// ParseStepKind maps a step name back to its kind.
func ParseStepKind(name string) (StepKind, error) {
	for kind := StepCompress; kind <= StepDecompress; kind++ {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("pipeline: unknown step %q", name)
}

// Forward returns the canonical forward chain.
func Forward() []StepKind {
	return []StepKind{StepCompress, StepEncrypt, StepIndex, StepAudit, StepStore}
}

// Inverse returns the canonical inverse chain.
func Inverse() []StepKind {
	return []StepKind{StepRetrieve, StepVerify, StepDecrypt, StepDecompress}
}

// StepFunc transforms input into output. Execution-scoped metadata is shared
// across steps so an inverse step can read what its forward twin recorded.
type StepFunc func(ctx context.Context, input []byte, meta map[string]string) ([]byte, error)

// registry builds the step implementations over the capability ports.
func (e *Executor) registry() map[StepKind]StepFunc {
	return map[StepKind]StepFunc{
		StepCompress:   e.compress,
		StepEncrypt:    e.encrypt,
		StepIndex:      e.index,
		StepAudit:      e.audit,
		StepStore:      e.store,
		StepRetrieve:   e.retrieve,
		StepVerify:     e.verify,
		StepDecrypt:    e.decrypt,
		StepDecompress: e.decompress,
	}
}

func (e *Executor) compress(_ context.Context, input []byte, meta map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(input); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: flush: %w", err)
	}
	meta["compress.original_size"] = strconv.Itoa(len(input))
	return buf.Bytes(), nil
}

func (e *Executor) decompress(_ context.Context, input []byte, _ map[string]string) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(input))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

const encMetaPrefix = "enc."

func (e *Executor) encrypt(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	cipher, encMeta, err := e.crypto.Encrypt(ctx, input, meta["level"])
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	for k, v := range encMeta {
		meta[encMetaPrefix+k] = v
	}
	return cipher, nil
}

func (e *Executor) decrypt(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	encMeta := ports.EncryptionMeta{}
	for k, v := range meta {
		if len(k) > len(encMetaPrefix) && k[:len(encMetaPrefix)] == encMetaPrefix {
			encMeta[k[len(encMetaPrefix):]] = v
		}
	}
	plain, err := e.crypto.Decrypt(ctx, input, encMeta)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}

func (e *Executor) index(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	digest := e.crypto.Hash(input)
	id, err := e.idx.Register(ctx, ports.IndexEntry{
		Key:       meta["execution_id"],
		Hash:      hex.EncodeToString(digest[:]),
		Size:      int64(len(input)),
		Metadata:  map[string]string{"stage": "pipeline"},
		Timestamp: e.clock.NowMillis(),
	})
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	meta["index.id"] = id
	return input, nil
}

func (e *Executor) audit(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	err := e.aud.Log(ctx, ports.AuditEvent{
		ID:            e.ids.New(),
		Action:        "dataflow.step.audited",
		Actor:         meta["actor"],
		Resource:      meta["execution_id"],
		Outcome:       "ok",
		CorrelationID: meta["execution_id"],
		Details:       map[string]string{"size": strconv.Itoa(len(input))},
		Timestamp:     e.clock.NowMillis(),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return input, nil
}

func (e *Executor) store(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	digest := e.crypto.Hash(input)
	address, err := e.storage.Put(ctx, input, meta["execution_id"], "pipeline")
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	meta["store.address"] = address
	meta["store.hash"] = hex.EncodeToString(digest[:])
	return []byte(address), nil
}

func (e *Executor) retrieve(ctx context.Context, input []byte, meta map[string]string) ([]byte, error) {
	address := string(input)
	if address == "" {
		address = meta["store.address"]
	}
	data, err := e.storage.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return data, nil
}

func (e *Executor) verify(_ context.Context, input []byte, meta map[string]string) ([]byte, error) {
	want := meta["store.hash"]
	if want == "" {
		return nil, fault.New(fault.KindValidation, "pipeline.verify", "no stored hash to verify against")
	}
	digest := e.crypto.Hash(input)
	if got := hex.EncodeToString(digest[:]); got != want {
		return nil, fault.New(fault.KindIntegrityViolation, "pipeline.verify",
			fmt.Sprintf("retrieved content hash %s does not match stored %s", got, want))
	}
	return input, nil
}
