package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tracker-project/trackerfs/internal/model"
)

// MemorySink is an in-memory reference StorageSink, used by the test
// suite and the CLI's `--store=memory` mode so the core pipeline can be
// exercised without a live SQLite file. Grounded on the teacher's
// internal/db.DB shape (typed wrapper exposing file/chunk CRUD over a
// single backing store), collapsed here to plain Go maps.
type MemorySink struct {
	mu       sync.Mutex
	nextID   int64
	files    map[int64]*memFile
	byUri    map[string]int64
	observer MutationObserver
	inTx     bool
	txBackup map[int64]*memFile // snapshot for rollback
}

type memFile struct {
	ID     int64
	Uri    model.Uri
	Kind   model.FileKind
	Mtime  time.Time
	Size   int64
	Fields map[string]any
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		files: make(map[int64]*memFile),
		byUri: make(map[string]int64),
	}
}

func (s *MemorySink) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		return fmt.Errorf("sink: transaction already open")
	}
	s.inTx = true
	s.txBackup = cloneFiles(s.files)
	return nil
}

func (s *MemorySink) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return fmt.Errorf("sink: no open transaction")
	}
	s.inTx = false
	s.txBackup = nil
	return nil
}

func (s *MemorySink) RollbackTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return fmt.Errorf("sink: no open transaction")
	}
	s.files = s.txBackup
	s.byUri = make(map[string]int64, len(s.files))
	for id, f := range s.files {
		s.byUri[f.Uri.String()] = id
	}
	s.inTx = false
	s.txBackup = nil
	return nil
}

func (s *MemorySink) InsertFile(ctx context.Context, uri model.Uri, kind model.FileKind, mtime time.Time, size int64, serviceType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	f := &memFile{ID: id, Uri: uri, Kind: kind, Mtime: mtime, Size: size, Fields: map[string]any{"service_type": serviceType}}
	s.files[id] = f
	s.byUri[uri.String()] = id

	s.notify(uri.String(), "nie:mimeType", serviceType)
	return id, nil
}

func (s *MemorySink) UpdateFile(ctx context.Context, fileID int64, fields map[string]any) error {
	s.mu.Lock()
	f, ok := s.files[fileID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sink: update unknown file id %d", fileID)
	}

	s.mu.Lock()
	for k, v := range fields {
		f.Fields[k] = v
	}
	s.mu.Unlock()

	for k, v := range fields {
		s.notify(f.Uri.String(), k, fmt.Sprint(v))
	}
	return nil
}

func (s *MemorySink) DeleteFile(ctx context.Context, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return fmt.Errorf("sink: delete unknown file id %d", fileID)
	}
	delete(s.files, fileID)
	delete(s.byUri, f.Uri.String())
	return nil
}

func (s *MemorySink) DeleteDirectory(ctx context.Context, fileID int64, uri model.Uri) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := uri.String() + "/"
	for id, f := range s.files {
		if f.Uri.String() == uri.String() || strings.HasPrefix(f.Uri.String(), prefix) {
			delete(s.files, id)
			delete(s.byUri, f.Uri.String())
		}
	}
	return nil
}

func (s *MemorySink) MoveFile(ctx context.Context, fromUri, toUri model.Uri) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUri[fromUri.String()]
	if !ok {
		return fmt.Errorf("sink: move unknown uri %s", fromUri)
	}
	f := s.files[id]
	delete(s.byUri, fromUri.String())
	f.Uri = toUri
	s.byUri[toUri.String()] = id
	return nil
}

func (s *MemorySink) MoveDirectory(ctx context.Context, fromUri, toUri model.Uri) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromPrefix := fromUri.String()
	for id, f := range s.files {
		p := f.Uri.String()
		if p == fromPrefix {
			delete(s.byUri, p)
			f.Uri = toUri
			s.byUri[toUri.String()] = id
			continue
		}
		if strings.HasPrefix(p, fromPrefix+"/") {
			newPath := toUri.String() + p[len(fromPrefix):]
			delete(s.byUri, p)
			newUri, err := model.NewUri(newPath, "/")
			if err != nil {
				continue
			}
			f.Uri = newUri
			s.byUri[newPath] = id
		}
	}
	return nil
}

func (s *MemorySink) GetFileInfo(ctx context.Context, uri model.Uri) (*FileInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUri[uri.String()]
	if !ok {
		return nil, false, nil
	}
	f := s.files[id]
	return &FileInfo{FileID: f.ID, Mtime: f.Mtime, Kind: f.Kind}, true, nil
}

func (s *MemorySink) ListFilesInFolder(ctx context.Context, uri model.Uri) ([]model.Uri, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := uri.String() + "/"
	var out []model.Uri
	for _, f := range s.files {
		if strings.HasPrefix(f.Uri.String(), prefix) {
			out = append(out, f.Uri)
		}
	}
	return out, nil
}

func (s *MemorySink) SetOption(ctx context.Context, key string, value int64) error { return nil }
func (s *MemorySink) Analyze(ctx context.Context) error                            { return nil }

func (s *MemorySink) SetMutationObserver(obs MutationObserver) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

func (s *MemorySink) notify(subject, predicate, object string) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs("", subject, predicate, object)
	}
}

// Files returns a snapshot of every currently indexed file, for tests.
func (s *MemorySink) Files() []FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileInfo, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, FileInfo{FileID: f.ID, Mtime: f.Mtime, Kind: f.Kind})
	}
	return out
}

func cloneFiles(in map[int64]*memFile) map[int64]*memFile {
	out := make(map[int64]*memFile, len(in))
	for id, f := range in {
		cp := *f
		cp.Fields = make(map[string]any, len(f.Fields))
		for k, v := range f.Fields {
			cp.Fields[k] = v
		}
		out[id] = &cp
	}
	return out
}
