package codec

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// tarCodec — кодек формата tar. Контейнер без сжатия и без
// шифрования; упаковка с паролем отклоняется.
type tarCodec struct{}

func newTarCodec() *tarCodec { return &tarCodec{} }

func (c *tarCodec) Format() model.ArchiveFormat { return model.FormatTar }

func (c *tarCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, apperrors.Storage("не удалось открыть tar-архив", err)
	}
	defer f.Close()
	return tarList(ctx, f)
}

func (c *tarCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, apperrors.Storage("не удалось открыть tar-архив", err)
	}
	defer f.Close()
	return tarExtract(ctx, f, destDir, only)
}

func (c *tarCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	if opts.Password != "" {
		return nil, apperrors.UnsupportedFormat("формат tar не поддерживает шифрование")
	}
	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, apperrors.Storage("не удалось создать tar-архив", err)
	}
	defer out.Close()

	entries, err := tarWrite(ctx, out, srcDir)
	if err != nil {
		return nil, err
	}
	if err := out.Sync(); err != nil {
		return nil, apperrors.Storage("не удалось синхронизировать tar-архив на диск", err)
	}
	return entries, nil
}

func (c *tarCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	return apperrors.UnsupportedFormat("формат tar не поддерживает шифрование")
}

// tarList читает оглавление tar-потока.
// Вынесено в хелпер: используется кодеками tar и tar.gz.
func tarList(ctx context.Context, r io.Reader) ([]model.FileEntryInfo, error) {
	tr := tar.NewReader(r)
	var entries []model.FileEntryInfo
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.InvalidArchive("повреждённый заголовок tar", err)
		}
		if len(entries) >= maxListEntries {
			return nil, apperrors.InvalidArchive(fmt.Sprintf("архив содержит слишком много записей: >%d", maxListEntries), nil)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			path, err := model.NormalizeEntryPath(hdr.Name + "/")
			if err != nil {
				return nil, apperrors.InvalidArchive(err.Error(), nil)
			}
			entries = append(entries, model.FileEntryInfo{Path: path, IsDirectory: true})
		case tar.TypeReg:
			path, err := model.NormalizeEntryPath(hdr.Name)
			if err != nil {
				return nil, apperrors.InvalidArchive(err.Error(), nil)
			}
			entries = append(entries, model.FileEntryInfo{
				Path: path,
				Size: hdr.Size,
			})
		default:
			// Ссылки и спецфайлы в листинг не попадают.
		}
	}
	return synthesizeDirEntries(entries), nil
}

// tarExtract распаковывает tar-поток в destDir.
func tarExtract(ctx context.Context, r io.Reader, destDir string, only []string) ([]model.FileEntryInfo, error) {
	tr := tar.NewReader(r)
	var extracted []model.FileEntryInfo
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.InvalidArchive("повреждённый заголовок tar", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		path, err := model.NormalizeEntryPath(hdr.Name)
		if err != nil {
			return nil, apperrors.InvalidArchive(err.Error(), nil)
		}
		if !wantEntry(path, only) {
			continue
		}
		target, err := secureJoin(destDir, path)
		if err != nil {
			return nil, err
		}
		n, err := writeFileStreaming(target, tr)
		if err != nil {
			return nil, apperrors.Extraction(fmt.Sprintf("не удалось распаковать запись %q", path), err)
		}
		extracted = append(extracted, model.FileEntryInfo{Path: path, Size: n})
	}
	return extracted, nil
}

// tarWrite упаковывает содержимое srcDir в tar-поток.
func tarWrite(ctx context.Context, w io.Writer, srcDir string) ([]model.FileEntryInfo, error) {
	sources, err := collectSource(srcDir)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(w)
	var entries []model.FileEntryInfo
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			tw.Close()
			return nil, err
		}
		info, err := os.Lstat(src.absPath)
		if err != nil {
			tw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось прочитать атрибуты %q", src.relPath), err)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			tw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось построить заголовок %q", src.relPath), err)
		}
		hdr.Name = src.relPath
		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось записать заголовок %q", src.relPath), err)
		}
		if src.isDir {
			entries = append(entries, model.FileEntryInfo{Path: src.relPath, IsDirectory: true})
			continue
		}
		in, err := os.Open(src.absPath)
		if err != nil {
			tw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось открыть источник %q", src.relPath), err)
		}
		_, err = io.Copy(tw, in)
		in.Close()
		if err != nil {
			tw.Close()
			return nil, apperrors.Compression(fmt.Sprintf("не удалось записать запись %q", src.relPath), err)
		}
		entries = append(entries, model.FileEntryInfo{Path: src.relPath, Size: src.size})
	}
	if err := tw.Close(); err != nil {
		return nil, apperrors.Compression("не удалось финализировать tar-архив", err)
	}
	return synthesizeDirEntries(entries), nil
}
