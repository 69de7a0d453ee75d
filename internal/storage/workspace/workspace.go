// Пакет workspace — рабочие директории заданий.
// Каждое задание получает эксклюзивную временную директорию под
// корнем AE_TEMP_DIR с именем {операция}_task_{job_id}. Директория
// удаляется по завершении задания; брошенные после аварий директории
// находит и удаляет фоновая очистка.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
)

// taskDirMarker — признак рабочей директории задания в имени.
const taskDirMarker = "_task_"

// Manager создаёт и перечисляет рабочие директории под общим корнем.
// Директории живых заданий регистрируются и исключаются из ListStale:
// возраст по mtime не отличает брошенную директорию от директории
// долгого задания.
type Manager struct {
	root string

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager создаёт менеджер рабочих директорий. Корень создаётся,
// если отсутствует.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корень рабочих директорий %s: %w", root, err)
	}
	return &Manager{root: root, active: make(map[string]struct{})}, nil
}

// Root возвращает корень рабочих директорий.
func (m *Manager) Root() string {
	return m.root
}

// Workspace — эксклюзивная рабочая директория одного задания.
type Workspace struct {
	// Dir — абсолютный путь директории
	Dir string

	m *Manager
}

// Create создаёт рабочую директорию задания и регистрирует её живой.
// Существующая директория с тем же именем — признак повторной
// доставки незавершённого задания; она удаляется и создаётся заново.
func (m *Manager) Create(operation, jobID string) (*Workspace, error) {
	name := fmt.Sprintf("%s%s%s", sanitizeComponent(operation), taskDirMarker, sanitizeComponent(jobID))
	dir := filepath.Join(m.root, name)

	if err := os.RemoveAll(dir); err != nil {
		return nil, apperrors.Storage(fmt.Sprintf("не удалось очистить рабочую директорию %s", name), err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apperrors.Storage(fmt.Sprintf("не удалось создать рабочую директорию %s", name), err)
	}

	m.mu.Lock()
	m.active[dir] = struct{}{}
	m.mu.Unlock()
	return &Workspace{Dir: dir, m: m}, nil
}

// Path возвращает путь внутри рабочей директории.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// Subdir создаёт и возвращает поддиректорию рабочей директории.
func (w *Workspace) Subdir(name string) (string, error) {
	dir := filepath.Join(w.Dir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperrors.Storage(fmt.Sprintf("не удалось создать поддиректорию %s", name), err)
	}
	return dir, nil
}

// Discard удаляет рабочую директорию со всем содержимым и снимает
// регистрацию. Вызывается в defer: ошибка удаления не влияет на
// результат задания.
func (w *Workspace) Discard() error {
	err := os.RemoveAll(w.Dir)
	if w.m != nil {
		w.m.mu.Lock()
		delete(w.m.active, w.Dir)
		w.m.mu.Unlock()
	}
	return err
}

// StaleEntry — брошенная рабочая директория.
type StaleEntry struct {
	// Dir — абсолютный путь
	Dir string
	// ModTime — время последнего изменения
	ModTime time.Time
}

// ListStale возвращает рабочие директории, не изменявшиеся дольше
// maxAge. Директории живых заданий пропускаются независимо от
// возраста. Используется фоновой очисткой.
func (m *Manager) ListStale(maxAge time.Duration) ([]StaleEntry, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, apperrors.Cleanup("не удалось перечислить рабочие директории", err)
	}

	m.mu.Lock()
	active := make(map[string]struct{}, len(m.active))
	for dir := range m.active {
		active[dir] = struct{}{}
	}
	m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []StaleEntry
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), taskDirMarker) {
			continue
		}
		if _, ok := active[filepath.Join(m.root, e.Name())]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, StaleEntry{
				Dir:     filepath.Join(m.root, e.Name()),
				ModTime: info.ModTime(),
			})
		}
	}
	return stale, nil
}

// sanitizeComponent убирает разделители путей из компонента имени.
func sanitizeComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "job"
	}
	return result.String()
}
