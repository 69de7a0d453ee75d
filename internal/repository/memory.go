package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// MemoryStore — потокобезопасная in-memory реализация Store.
// Используется юнит-тестами и автономным запуском без PostgreSQL.
// Использует sync.RWMutex для конкурентного чтения и эксклюзивной
// записи; все методы возвращают защитные копии.
type MemoryStore struct {
	mu         sync.RWMutex
	archives   map[string]*model.ArchiveInfo
	trash      map[string]*model.TrashRecord
	processing map[string]*model.ArchiveProcessingInfo
}

// NewMemory создаёт пустое in-memory хранилище метаданных.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		archives:   make(map[string]*model.ArchiveInfo),
		trash:      make(map[string]*model.TrashRecord),
		processing: make(map[string]*model.ArchiveProcessingInfo),
	}
}

// --- archive_registry ---

func (s *MemoryStore) Save(ctx context.Context, info *model.ArchiveInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Копия, чтобы избежать data race при внешних изменениях
	copied := *info
	s.archives[info.ArchiveID] = &copied
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.archives[archiveID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *info
	return &copied, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, filter ListFilter) ([]*model.ArchiveInfo, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*model.ArchiveInfo
	for _, info := range s.archives {
		if info.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		if filter.Pattern != "" && !strings.Contains(strings.ToLower(info.Name), strings.ToLower(filter.Pattern)) {
			continue
		}
		copied := *info
		filtered = append(filtered, &copied)
	}

	asc := filter.SortOrder == "asc"
	sort.Slice(filtered, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "name":
			less = filtered[i].Name < filtered[j].Name
		case "size":
			less = filtered[i].Size < filtered[j].Size
		default:
			less = filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})

	total := len(filtered)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return filtered[filter.Offset:end], total, nil
}

func (s *MemoryStore) Delete(ctx context.Context, archiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.archives[archiveID]; !ok {
		return ErrNotFound
	}
	delete(s.archives, archiveID)
	return nil
}

// --- archive_trash ---

func (s *MemoryStore) PutTrash(ctx context.Context, rec *model.TrashRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	s.trash[rec.ArchiveID] = &copied
	return nil
}

func (s *MemoryStore) GetTrash(ctx context.Context, archiveID string) (*model.TrashRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.trash[archiveID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) DeleteTrash(ctx context.Context, archiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trash, archiveID)
	return nil
}

func (s *MemoryStore) ListExpiredTrash(ctx context.Context, now time.Time) ([]*model.TrashRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*model.TrashRecord
	for _, rec := range s.trash {
		if !rec.RetentionDeadline.After(now) {
			copied := *rec
			expired = append(expired, &copied)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].RetentionDeadline.Before(expired[j].RetentionDeadline)
	})
	return expired, nil
}

// --- archive_processing ---

func (s *MemoryStore) CreateProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ON CONFLICT DO NOTHING: существующая запись не перезаписывается
	if _, ok := s.processing[info.JobID]; ok {
		return nil
	}
	copied := copyProcessing(info)
	s.processing[info.JobID] = copied
	return nil
}

func (s *MemoryStore) CompleteProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processing[info.JobID]; !ok {
		return ErrNotFound
	}
	s.processing[info.JobID] = copyProcessing(info)
	return nil
}

func (s *MemoryStore) GetProcessing(ctx context.Context, jobID string) (*model.ArchiveProcessingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.processing[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProcessing(info), nil
}

// copyProcessing делает глубокую копию состояния задания.
func copyProcessing(info *model.ArchiveProcessingInfo) *model.ArchiveProcessingInfo {
	copied := *info
	if info.Result != nil {
		copied.Result = make(map[string]any, len(info.Result))
		for k, v := range info.Result {
			copied.Result[k] = v
		}
	}
	if info.CompletedAt != nil {
		t := *info.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}
