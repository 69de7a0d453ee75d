package codec

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/yeka/zip"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// zipCodec — кодек формата zip. Единственный формат с полной
// поддержкой записи и шифрования: чтение ZipCrypto и AES,
// запись с шифрованием AES-256.
type zipCodec struct{}

func newZipCodec() *zipCodec { return &zipCodec{} }

func (c *zipCodec) Format() model.ArchiveFormat { return model.FormatZip }

// openReader открывает zip по пути. Оглавление zip не шифруется,
// пароль для листинга не нужен.
func (c *zipCodec) openReader(archivePath string) (*os.File, *zip.Reader, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, apperrors.Storage("не удалось открыть zip-архив", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, apperrors.Storage("не удалось получить размер zip-архива", err)
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, nil, apperrors.InvalidArchive("повреждённое оглавление zip-архива", err)
	}
	return f, zr, nil
}

func (c *zipCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.openReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if len(zr.File) > maxListEntries {
		return nil, apperrors.InvalidArchive(fmt.Sprintf("архив содержит слишком много записей: %d", len(zr.File)), nil)
	}

	entries := make([]model.FileEntryInfo, 0, len(zr.File))
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := model.NormalizeEntryPath(zf.Name)
		if err != nil {
			return nil, apperrors.InvalidArchive(err.Error(), nil)
		}
		isDir := strings.HasSuffix(zf.Name, "/")
		if isDir && !strings.HasSuffix(path, "/") {
			path += "/"
		}
		e := model.FileEntryInfo{
			Path:        path,
			IsDirectory: isDir,
		}
		if !isDir {
			e.Size = int64(zf.UncompressedSize64)
			e.CompressedSize = int64(zf.CompressedSize64)
			e.Checksum = fmt.Sprintf("%08x", zf.CRC32)
		}
		entries = append(entries, e)
	}
	return synthesizeDirEntries(entries), nil
}

func (c *zipCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	f, zr, err := c.openReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var extracted []model.FileEntryInfo
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasSuffix(zf.Name, "/") {
			continue
		}
		path, err := model.NormalizeEntryPath(zf.Name)
		if err != nil {
			return nil, apperrors.InvalidArchive(err.Error(), nil)
		}
		if !wantEntry(path, only) {
			continue
		}
		if zf.IsEncrypted() {
			if password == "" {
				return nil, apperrors.PasswordProtected("")
			}
			zf.SetPassword(password)
		}
		target, err := secureJoin(destDir, path)
		if err != nil {
			return nil, err
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, c.mapReadError(zf, password, err)
		}
		n, err := writeFileStreaming(target, rc)
		rc.Close()
		if err != nil {
			// ZipCrypto обнаруживает неверный пароль только при чтении
			// данных (несовпадение CRC или сбой декодера).
			return nil, c.mapReadError(zf, password, err)
		}
		extracted = append(extracted, model.FileEntryInfo{
			Path:           path,
			Size:           n,
			CompressedSize: int64(zf.CompressedSize64),
			Checksum:       fmt.Sprintf("%08x", zf.CRC32),
		})
	}
	return extracted, nil
}

// mapReadError классифицирует ошибку чтения записи zip.
func (c *zipCodec) mapReadError(zf *zip.File, password string, err error) error {
	if zf.IsEncrypted() && password != "" {
		return apperrors.WrongPassword("")
	}
	return apperrors.Extraction(fmt.Sprintf("не удалось прочитать запись %q", zf.Name), err)
}

func (c *zipCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	sources, err := collectSource(srcDir)
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, apperrors.Storage("не удалось создать zip-архив", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	level := opts.EffectiveLevel()
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	var entries []model.FileEntryInfo
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		if src.isDir {
			if _, err := zw.Create(src.relPath); err != nil {
				zw.Close()
				return nil, apperrors.Compression(fmt.Sprintf("не удалось добавить каталог %q", src.relPath), err)
			}
			entries = append(entries, model.FileEntryInfo{Path: src.relPath, IsDirectory: true})
			continue
		}

		var w io.Writer
		if opts.Password != "" {
			w, err = zw.Encrypt(src.relPath, opts.Password, zip.AES256Encryption)
		} else {
			w, err = zw.Create(src.relPath)
		}
		if err != nil {
			zw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось добавить запись %q", src.relPath), err)
		}
		in, err := os.Open(src.absPath)
		if err != nil {
			zw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось открыть источник %q", src.relPath), err)
		}
		_, err = io.Copy(w, in)
		in.Close()
		if err != nil {
			zw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось записать запись %q", src.relPath), err)
		}
		entries = append(entries, model.FileEntryInfo{Path: src.relPath, Size: src.size})
	}
	if err := zw.Close(); err != nil {
		return nil, apperrors.Compression("не удалось финализировать zip-архив", err)
	}
	if err := out.Sync(); err != nil {
		return nil, apperrors.Storage("не удалось синхронизировать zip-архив на диск", err)
	}
	return synthesizeDirEntries(entries), nil
}

// CheckPassword проверяет пароль чтением первой зашифрованной записи.
// Для незашифрованного архива любой пароль считается верным.
func (c *zipCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	f, zr, err := c.openReader(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !zf.IsEncrypted() || strings.HasSuffix(zf.Name, "/") {
			continue
		}
		zf.SetPassword(password)
		rc, err := zf.Open()
		if err != nil {
			return apperrors.WrongPassword("")
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return apperrors.WrongPassword("")
		}
		return nil
	}
	return nil
}
