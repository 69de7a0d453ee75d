package codec

import (
	"context"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// tarGzCodec — кодек формата tar.gz: tar-контейнер внутри
// gzip-потока. Шифрование не поддерживается.
type tarGzCodec struct{}

func newTarGzCodec() *tarGzCodec { return &tarGzCodec{} }

func (c *tarGzCodec) Format() model.ArchiveFormat { return model.FormatTarGz }

func (c *tarGzCodec) open(archivePath string) (*os.File, *gzip.Reader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, apperrors.Storage("не удалось открыть tar.gz-архив", err)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, apperrors.InvalidArchive("повреждённый заголовок gzip", err)
	}
	return f, zr, nil
}

func (c *tarGzCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer zr.Close()
	return tarList(ctx, zr)
}

func (c *tarGzCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer zr.Close()
	return tarExtract(ctx, zr, destDir, only)
}

func (c *tarGzCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	if opts.Password != "" {
		return nil, apperrors.UnsupportedFormat("формат tar.gz не поддерживает шифрование")
	}
	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, apperrors.Storage("не удалось создать tar.gz-архив", err)
	}
	defer out.Close()

	zw, err := gzip.NewWriterLevel(out, opts.EffectiveLevel())
	if err != nil {
		return nil, apperrors.Compression("недопустимый уровень сжатия gzip", err)
	}
	entries, err := tarWrite(ctx, zw, srcDir)
	if err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, apperrors.Compression("не удалось финализировать поток gzip", err)
	}
	if err := out.Sync(); err != nil {
		return nil, apperrors.Storage("не удалось синхронизировать tar.gz-архив на диск", err)
	}
	return entries, nil
}

func (c *tarGzCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	return apperrors.UnsupportedFormat("формат tar.gz не поддерживает шифрование")
}
