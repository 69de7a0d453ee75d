package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// gzipCodec — кодек одиночного gzip-потока. Контейнер хранит ровно
// один файл; упаковка нескольких источников и шифрование отклоняются.
type gzipCodec struct{}

func newGzipCodec() *gzipCodec { return &gzipCodec{} }

func (c *gzipCodec) Format() model.ArchiveFormat { return model.FormatGzip }

// innerName возвращает имя вложенного файла: из заголовка gzip
// или по имени архива без расширения .gz.
func (c *gzipCodec) innerName(archivePath string, zr *gzip.Reader) string {
	if zr.Name != "" {
		if normalized, err := model.NormalizeEntryPath(zr.Name); err == nil {
			return normalized
		}
	}
	base := filepath.Base(archivePath)
	if trimmed := strings.TrimSuffix(base, ".gz"); trimmed != base && trimmed != "" {
		return trimmed
	}
	return base + ".out"
}

func (c *gzipCodec) open(archivePath string) (*os.File, *gzip.Reader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, apperrors.Storage("не удалось открыть gzip-архив", err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, apperrors.InvalidArchive("повреждённый заголовок gzip", err)
	}
	return f, zr, nil
}

// List декомпрессирует поток целиком: формат не хранит размер
// надёжно (поле ISIZE — по модулю 2^32).
func (c *gzipCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer zr.Close()

	size, err := io.Copy(io.Discard, zr)
	if err != nil {
		return nil, apperrors.InvalidArchive("повреждённый поток gzip", err)
	}
	return []model.FileEntryInfo{{Path: c.innerName(archivePath, zr), Size: size}}, nil
}

func (c *gzipCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer zr.Close()

	name := c.innerName(archivePath, zr)
	if !wantEntry(name, only) {
		return nil, nil
	}
	target, err := secureJoin(destDir, name)
	if err != nil {
		return nil, err
	}
	n, err := writeFileStreaming(target, zr)
	if err != nil {
		return nil, apperrors.Extraction("не удалось распаковать поток gzip", err)
	}
	return []model.FileEntryInfo{{Path: name, Size: n}}, nil
}

func (c *gzipCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	if opts.Password != "" {
		return nil, apperrors.UnsupportedFormat("формат gz не поддерживает шифрование")
	}
	sources, err := collectSource(srcDir)
	if err != nil {
		return nil, err
	}
	var files []sourceEntry
	for _, s := range sources {
		if !s.isDir {
			files = append(files, s)
		}
	}
	if len(files) != 1 {
		return nil, apperrors.UnsupportedFormat(fmt.Sprintf("формат gz хранит ровно один файл, источников: %d", len(files)))
	}
	src := files[0]

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, apperrors.Storage("не удалось создать gzip-архив", err)
	}
	defer out.Close()

	zw, err := gzip.NewWriterLevel(out, opts.EffectiveLevel())
	if err != nil {
		return nil, apperrors.Compression("недопустимый уровень сжатия gzip", err)
	}
	zw.Name = src.relPath

	in, err := os.Open(src.absPath)
	if err != nil {
		return nil, apperrors.Compression(fmt.Sprintf("не удалось открыть источник %q", src.relPath), err)
	}
	_, err = io.Copy(zw, in)
	in.Close()
	if err != nil {
		zw.Close()
		return nil, apperrors.Compression("не удалось записать поток gzip", err)
	}
	if err := zw.Close(); err != nil {
		return nil, apperrors.Compression("не удалось финализировать поток gzip", err)
	}
	if err := out.Sync(); err != nil {
		return nil, apperrors.Storage("не удалось синхронизировать gzip-архив на диск", err)
	}
	return []model.FileEntryInfo{{Path: src.relPath, Size: src.size}}, nil
}

func (c *gzipCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	return apperrors.UnsupportedFormat("формат gz не поддерживает шифрование")
}
