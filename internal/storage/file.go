package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"telesis/internal/model"
)

// FileStore keeps one JSON file per checkpoint under a directory. Files are
// written once and never rewritten; the latest checkpoint is the one with the
// highest sequence number in its file name.
type FileStore struct {
	dir string

	mu          sync.Mutex
	initialized bool
	nextSeq     int
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return errors.New("file store directory is required")
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "history"), 0o750); err != nil {
		return err
	}

	seqs, err := s.listSequences()
	if err != nil {
		return err
	}
	s.nextSeq = 0
	if len(seqs) > 0 {
		s.nextSeq = seqs[len(seqs)-1].seq + 1
	}
	s.initialized = true
	return nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("file store is not initialized")
	}

	seqs, err := s.listSequences()
	if err != nil {
		return err
	}
	for _, entry := range seqs {
		if entry.id == checkpoint.ID {
			return ErrCheckpointExists
		}
	}

	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%06d_%s.json", s.nextSeq, checkpoint.ID)
	if err := os.WriteFile(filepath.Join(s.dir, name), payload, 0o640); err != nil {
		return err
	}
	s.nextSeq++
	return nil
}

func (s *FileStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, err := s.listSequences()
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	for _, entry := range seqs {
		if entry.id == id {
			return s.readCheckpoint(entry.name)
		}
	}
	return model.Checkpoint{}, false, nil
}

func (s *FileStore) LatestCheckpoint(_ context.Context) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, err := s.listSequences()
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	if len(seqs) == 0 {
		return model.Checkpoint{}, false, nil
	}
	return s.readCheckpoint(seqs[len(seqs)-1].name)
}

func (s *FileStore) ListCheckpoints(_ context.Context) ([]model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, err := s.listSequences()
	if err != nil {
		return nil, err
	}
	out := make([]model.Checkpoint, 0, len(seqs))
	for _, entry := range seqs {
		checkpoint, ok, err := s.readCheckpoint(entry.name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, checkpoint)
		}
	}
	return out, nil
}

func (s *FileStore) SaveMetricsHistory(_ context.Context, runID string, history []model.EvolutionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("file store is not initialized")
	}
	payload, err := EncodeMetricsHistory(history)
	if err != nil {
		return err
	}
	return os.WriteFile(s.historyPath(runID), payload, 0o640)
}

func (s *FileStore) GetMetricsHistory(_ context.Context, runID string) ([]model.EvolutionMetrics, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.historyPath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	history, err := DecodeMetricsHistory(data)
	if err != nil {
		return nil, false, err
	}
	return history, true, nil
}

func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.initialized = false
	s.mu.Unlock()
	return s.Init(ctx)
}

func (s *FileStore) historyPath(runID string) string {
	safe := strings.ReplaceAll(runID, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, "history", safe+".json")
}

type fileEntry struct {
	seq  int
	id   string
	name string
}

func (s *FileStore) listSequences() ([]fileEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".json")
		seqPart, idPart, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(seqPart, "%d", &seq); err != nil {
			continue
		}
		out = append(out, fileEntry{seq: seq, id: idPart, name: entry.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (s *FileStore) readCheckpoint(name string) (model.Checkpoint, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	var checkpoint model.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint file %s: %w", name, err)
	}
	if err := checkVersion(checkpoint.VersionedRecord); err != nil {
		return model.Checkpoint{}, false, err
	}
	return checkpoint, true, nil
}
