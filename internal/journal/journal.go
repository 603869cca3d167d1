// Package journal implements ChangeSetJournal: an append-only, CRC-framed
// write-ahead log of pending actions used for crash recovery
// (spec.md §4.11).
//
// The teacher has no durable-queue analog; this is grounded on the
// teacher's general persistence idiom (internal/db wraps *sql.DB behind a
// small typed API, opens/creates its backing file eagerly, wraps every
// I/O error with %w) applied to a flat record file instead of SQLite,
// since spec.md §6 calls for a dedicated journal file at
// $XDG_CACHE_HOME/trackerfs/pending.journal, not a database table.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tracker-project/trackerfs/internal/model"
)

// Op enumerates the operations a journal record can carry.
type Op byte

const (
	OpEnqueue Op = iota + 1
	OpCheckpointMarker
)

// Record is one journal entry: <op, uri, moved_to?, kind, mtime>.
type Record struct {
	Op       Op
	Uri      string
	MovedTo  string
	Kind     model.FileKind
	Mtime    time.Time
	Sequence uint64
}

// Journal is an append-only, checkpointable record log.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
	seq  uint64
}

// Open opens (creating if necessary) the journal file at path. Sequence
// numbering continues after the highest sequence already in the file.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	records, err := readAll(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	j := &Journal{path: path, f: f}
	for _, r := range records {
		if r.Sequence > j.seq {
			j.seq = r.Sequence
		}
	}
	return j, nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Append writes r as a length-prefixed, CRC-checked record and returns the
// sequence number assigned to it.
func (j *Journal) Append(r Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	r.Sequence = j.seq

	payload := encodeRecord(r)
	crc := crc32.ChecksumIEEE(payload)

	buf := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:4+len(payload)], payload)
	binary.BigEndian.PutUint32(buf[4+len(payload):], crc)

	if _, err := j.f.Write(buf); err != nil {
		return 0, fmt.Errorf("journal: append: %w", err)
	}
	return r.Sequence, nil
}

// Checkpoint fsyncs the journal and writes a checkpoint marker. It does
// not truncate the file itself; callers that want to bound file growth
// should call Truncate with the returned sequence, which rewrites the file
// to contain only the checkpoint marker and the records after it.
func (j *Journal) Checkpoint() (uint64, error) {
	j.mu.Lock()
	seq := j.seq
	j.mu.Unlock()

	if _, err := j.Append(Record{Op: OpCheckpointMarker, Sequence: seq}); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Sync(); err != nil {
		return 0, fmt.Errorf("journal: fsync: %w", err)
	}
	return seq, nil
}

// Truncate rewrites the journal file to drop every record whose sequence
// is at or below afterSeq. The marker Checkpoint writes carries the
// sequence after the one Checkpoint returns, so it is kept.
func (j *Journal) Truncate(afterSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := readAll(j.path)
	if err != nil {
		return err
	}

	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("journal: truncate: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, r := range records {
		if r.Sequence <= afterSeq {
			continue
		}
		payload := encodeRecord(r)
		crc := crc32.ChecksumIEEE(payload)
		buf := make([]byte, 4+len(payload)+4)
		binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
		copy(buf[4:4+len(payload)], payload)
		binary.BigEndian.PutUint32(buf[4+len(payload):], crc)
		if _, err := w.Write(buf); err != nil {
			tmp.Close()
			return fmt.Errorf("journal: truncate write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("journal: truncate flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal: truncate close: %w", err)
	}

	if err := j.f.Close(); err != nil {
		return fmt.Errorf("journal: truncate close old: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal: truncate rename: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("journal: reopen after truncate: %w", err)
	}
	j.f = f
	return nil
}

// Replay reads every well-formed record since the last checkpoint marker,
// discarding records that fail CRC and any record at or before the last
// checkpoint marker found (spec.md §4.11 recovery semantics).
func Replay(path string) ([]Record, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}

	lastCheckpoint := uint64(0)
	for _, r := range records {
		if r.Op == OpCheckpointMarker && r.Sequence > lastCheckpoint {
			lastCheckpoint = r.Sequence
		}
	}

	var out []Record
	for _, r := range records {
		if r.Op != OpEnqueue {
			continue
		}
		if r.Sequence <= lastCheckpoint {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func readAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	var records []Record
	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			break // truncated trailing record: stop, keep what's valid
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			break
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf[:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			continue // CRC mismatch: discard this record, keep scanning
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRecord(r Record) []byte {
	var buf []byte
	buf = append(buf, byte(r.Op))
	buf = appendString(buf, r.Uri)
	buf = appendString(buf, r.MovedTo)
	buf = append(buf, byte(r.Kind))
	var mtimeBuf [8]byte
	binary.BigEndian.PutUint64(mtimeBuf[:], uint64(r.Mtime.UnixNano()))
	buf = append(buf, mtimeBuf[:]...)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], r.Sequence)
	buf = append(buf, seqBuf[:]...)
	return buf
}

func decodeRecord(payload []byte) (Record, error) {
	if len(payload) < 1 {
		return Record{}, fmt.Errorf("journal: short record")
	}
	op := Op(payload[0])
	rest := payload[1:]

	uri, rest, err := readString(rest)
	if err != nil {
		return Record{}, err
	}
	movedTo, rest, err := readString(rest)
	if err != nil {
		return Record{}, err
	}
	if len(rest) < 1+8+8 {
		return Record{}, fmt.Errorf("journal: truncated record tail")
	}
	kind := model.FileKind(rest[0])
	rest = rest[1:]
	mtimeNanos := binary.BigEndian.Uint64(rest[0:8])
	seq := binary.BigEndian.Uint64(rest[8:16])

	return Record{
		Op:       op,
		Uri:      uri,
		MovedTo:  movedTo,
		Kind:     kind,
		Mtime:    time.Unix(0, int64(mtimeNanos)),
		Sequence: seq,
	}, nil
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("journal: truncated string length")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, fmt.Errorf("journal: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}
