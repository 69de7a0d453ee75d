// Пакет blobstore — шлюз к blob-хранилищу Archive Engine.
// Хранилище организовано в бакеты: archive — байты архивов,
// files — исходные файлы, extracted — результаты распаковки,
// wordlists — словари подбора паролей. Ключ имеет вид
// "{bucket}/{object}".
//
// Файловая реализация пишет по паттерну temp файл → fsync →
// atomic rename: частично записанный объект не виден читателям.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
)

// Бакеты blob-хранилища.
const (
	BucketArchive   = "archive"
	BucketFiles     = "files"
	BucketExtracted = "extracted"
	BucketWordlists = "wordlists"
)

// ErrNotExist — объект с указанным ключом отсутствует в хранилище.
var ErrNotExist = errors.New("объект не найден в blob-хранилище")

// Gateway — операции blob-хранилища. Все методы принимают контекст:
// реализация поверх сетевого объектного хранилища обязана уважать отмену.
type Gateway interface {
	// Get открывает объект на чтение. Вызывающий код обязан закрыть reader.
	// Для отсутствующего ключа ошибка оборачивает ErrNotExist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put записывает объект. Возвращает размер записанных данных.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Delete удаляет объект. Отсутствие объекта ошибкой не считается.
	Delete(ctx context.Context, key string) error

	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, key string) (bool, error)

	// Size возвращает размер объекта в байтах.
	Size(ctx context.Context, key string) (int64, error)
}

// MakeKey строит уникальный ключ объекта в бакете.
// Формат объекта: {name}_{timestamp}_{uuid8}{ext}.
func MakeKey(bucket, name string) string {
	ext := filepath.Ext(name)
	base := sanitize(strings.TrimSuffix(filepath.Base(name), ext))
	if len(base) > 50 {
		base = base[:50]
	}
	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%s/%s_%s_%s%s", bucket, base, ts, uid, ext)
}

// validateKey отклоняет ключи, выводящие за пределы корня хранилища.
func validateKey(key string) error {
	if key == "" {
		return apperrors.Storage("пустой ключ объекта", nil)
	}
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return apperrors.Storage(fmt.Sprintf("ключ %q не содержит бакета", key), nil)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return apperrors.Storage(fmt.Sprintf("недопустимый ключ объекта: %q", key), nil)
		}
	}
	return nil
}

// sanitize убирает небезопасные символы из строки для использования
// в имени объекта. Оставляет буквы, цифры, дефис, подчёркивание,
// точку и кириллицу.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' ||
			(r >= 0x0400 && r <= 0x04FF) {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "object"
	}
	return result.String()
}

// FSGateway — файловая реализация Gateway поверх локальной директории.
type FSGateway struct {
	// dataDir — корневая директория хранилища (AE_DATA_DIR)
	dataDir string
}

// NewFS создаёт файловый шлюз и директории бакетов.
func NewFS(dataDir string) (*FSGateway, error) {
	for _, bucket := range []string{BucketArchive, BucketFiles, BucketExtracted, BucketWordlists} {
		if err := os.MkdirAll(filepath.Join(dataDir, bucket), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать бакет %s: %w", bucket, err)
		}
	}
	return &FSGateway{dataDir: dataDir}, nil
}

// DataDir возвращает корневую директорию хранилища.
func (g *FSGateway) DataDir() string {
	return g.dataDir
}

func (g *FSGateway) fullPath(key string) string {
	return filepath.Join(g.dataDir, filepath.FromSlash(key))
}

func (g *FSGateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(g.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Storage(fmt.Sprintf("объект %s отсутствует", key), ErrNotExist)
		}
		return nil, apperrors.Storage(fmt.Sprintf("не удалось открыть объект %s", key), err)
	}
	return f, nil
}

func (g *FSGateway) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fullPath := g.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return 0, apperrors.Storage(fmt.Sprintf("не удалось создать директорию для %s", key), err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, apperrors.Storage(fmt.Sprintf("не удалось создать временный файл для %s", key), err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, apperrors.Storage(fmt.Sprintf("не удалось записать объект %s", key), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, apperrors.Storage(fmt.Sprintf("не удалось выполнить fsync объекта %s", key), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, apperrors.Storage(fmt.Sprintf("не удалось закрыть объект %s", key), err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, apperrors.Storage(fmt.Sprintf("не удалось переименовать объект %s", key), err)
	}
	return size, nil
}

func (g *FSGateway) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(g.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Storage(fmt.Sprintf("не удалось удалить объект %s", key), err)
	}
	return nil
}

func (g *FSGateway) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(g.fullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.Storage(fmt.Sprintf("не удалось проверить объект %s", key), err)
}

func (g *FSGateway) Size(ctx context.Context, key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(g.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperrors.Storage(fmt.Sprintf("объект %s отсутствует", key), ErrNotExist)
		}
		return 0, apperrors.Storage(fmt.Sprintf("не удалось получить размер объекта %s", key), err)
	}
	return info.Size(), nil
}

// Download выгружает объект в локальный файл. Хелпер сервисного слоя:
// кодеки работают с файлами в рабочей директории задания.
func Download(ctx context.Context, g Gateway, key, localPath string) (int64, error) {
	rc, err := g.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return 0, apperrors.Storage(fmt.Sprintf("не удалось создать директорию для выгрузки %s", key), err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return 0, apperrors.Storage(fmt.Sprintf("не удалось создать локальный файл для %s", key), err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return 0, apperrors.Storage(fmt.Sprintf("не удалось выгрузить объект %s", key), err)
	}
	return n, nil
}

// Upload загружает локальный файл в хранилище под указанным ключом.
func Upload(ctx context.Context, g Gateway, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, apperrors.Storage(fmt.Sprintf("не удалось открыть локальный файл %s", localPath), err)
	}
	defer f.Close()
	return g.Put(ctx, key, f)
}
