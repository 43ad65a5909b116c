package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"trustledger/pkg/requestcontext"
)

// fileRecord is one JSONL line in the ledger file.
type fileRecord struct {
	Entry
	Seq       int64  `json:"seq"`
	PrevHash  string `json:"prevHash"`
	ChainHash string `json:"chainHash"`
}

// File is an append-only, hash-chained JSONL ledger. The latest version of
// every key is indexed in memory; the file itself is only ever appended to.
type File struct {
	mu     sync.Mutex
	path   string
	seq    int64
	prev   string
	latest map[string]fileRecord
}

// OpenFile opens or creates the ledger file at path and resumes its chain.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	f := &File{
		path:   path,
		prev:   genesisHash(),
		latest: make(map[string]fileRecord),
	}
	err := f.scan(func(rec fileRecord) error {
		f.seq = rec.Seq
		f.prev = rec.ChainHash
		f.latest[rec.Key] = rec
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return f, nil
}

func (f *File) scan(fn func(fileRecord) error) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode ledger line: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (f *File) Append(ctx context.Context, key string, value any) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	canonical, err := Canonicalize(value)
	if err != nil {
		return Receipt{}, err
	}
	txID := uuid.NewString()
	hash := Hash(canonical, txID)

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := fileRecord{
		Seq: f.seq + 1,
		Entry: Entry{
			Key:       key,
			Value:     canonical,
			TxID:      txID,
			Hash:      hash,
			Version:   f.latest[key].Version + 1,
			Timestamp: requestcontext.Now(ctx).UTC(),
		},
		PrevHash:  f.prev,
		ChainHash: chainHash(f.prev, hash),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal ledger line: %w", err)
	}
	data = append(data, '\n')

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Receipt{}, fmt.Errorf("open ledger file: %w: %w", ErrUnavailable, err)
	}
	defer fh.Close()
	if _, err := fh.Write(data); err != nil {
		return Receipt{}, fmt.Errorf("write ledger line: %w: %w", ErrUnavailable, err)
	}
	if err := fh.Sync(); err != nil {
		return Receipt{}, fmt.Errorf("sync ledger file: %w: %w", ErrUnavailable, err)
	}

	f.seq = rec.Seq
	f.prev = rec.ChainHash
	f.latest[key] = rec
	return Receipt{TxID: txID, Hash: hash}, nil
}

func (f *File) Read(_ context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.latest[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := rec.Entry
	return &e, nil
}

func (f *File) Verify(ctx context.Context, key, expectedHash string) (bool, error) {
	e, err := f.Read(ctx, key)
	if err != nil {
		return false, err
	}
	return verifyEntry(e, expectedHash), nil
}

// VerifyChain re-reads the file from disk and checks every line.
func (f *File) VerifyChain(_ context.Context) (ChainReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	report := ChainReport{}
	prev := genesisHash()
	err := f.scan(func(rec fileRecord) error {
		if report.BrokenAt != 0 {
			return nil
		}
		report.Entries++
		switch {
		case Hash(rec.Value, rec.TxID) != rec.Hash:
			report = brokenAt(report, rec.Seq, "entry hash mismatch")
		case rec.PrevHash != prev:
			report = brokenAt(report, rec.Seq, "prev hash mismatch")
		case chainHash(prev, rec.Hash) != rec.ChainHash:
			report = brokenAt(report, rec.Seq, "chain hash mismatch")
		}
		prev = rec.ChainHash
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return report, err
	}
	return report, nil
}

func (f *File) Path() string { return f.path }
