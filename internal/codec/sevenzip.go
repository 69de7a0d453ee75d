package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// sevenZipCodec — кодек формата 7z. Чтение с поддержкой пароля
// (включая зашифрованные заголовки), запись не поддерживается.
type sevenZipCodec struct{}

func newSevenZipCodec() *sevenZipCodec { return &sevenZipCodec{} }

func (c *sevenZipCodec) Format() model.ArchiveFormat { return model.Format7z }

func (c *sevenZipCodec) open(archivePath, password string) (*sevenzip.ReadCloser, error) {
	r, err := sevenzip.OpenReaderWithPassword(archivePath, password)
	if err != nil {
		// Зашифрованные заголовки: без пароля или с неверным паролем
		// оглавление не читается. Библиотека помечает сбой чтения
		// зашифрованного потока флагом ReadError.Encrypted.
		var re *sevenzip.ReadError
		if errors.As(err, &re) && re.Encrypted {
			if password == "" {
				return nil, apperrors.PasswordProtected("")
			}
			return nil, apperrors.WrongPassword("")
		}
		if password != "" {
			return nil, apperrors.WrongPassword("")
		}
		return nil, apperrors.InvalidArchive("не удалось открыть 7z-архив", err)
	}
	return r, nil
}

func (c *sevenZipCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	r, err := c.open(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if len(r.File) > maxListEntries {
		return nil, apperrors.InvalidArchive(fmt.Sprintf("архив содержит слишком много записей: %d", len(r.File)), nil)
	}

	var entries []model.FileEntryInfo
	for _, zf := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := zf.FileInfo()
		path, err := model.NormalizeEntryPath(zf.Name)
		if err != nil {
			return nil, apperrors.InvalidArchive(err.Error(), nil)
		}
		if info.IsDir() {
			entries = append(entries, model.FileEntryInfo{Path: path + "/", IsDirectory: true})
			continue
		}
		entries = append(entries, model.FileEntryInfo{
			Path:     path,
			Size:     info.Size(),
			Checksum: fmt.Sprintf("%08x", zf.CRC32),
		})
	}
	return synthesizeDirEntries(entries), nil
}

func (c *sevenZipCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	r, err := c.open(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var extracted []model.FileEntryInfo
	for _, zf := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
			continue
		}
		path, err := model.NormalizeEntryPath(zf.Name)
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
		rc, err := zf.Open()
		if err != nil {
			return nil, c.mapReadError(path, password, err)
		}
		n, err := writeFileStreaming(target, rc)
		rc.Close()
		if err != nil {
			return nil, c.mapReadError(path, password, err)
		}
		extracted = append(extracted, model.FileEntryInfo{
			Path:     path,
			Size:     n,
			Checksum: fmt.Sprintf("%08x", zf.CRC32),
		})
	}
	return extracted, nil
}

// mapReadError классифицирует ошибку чтения записи 7z: при пофайловом
// шифровании неверный пароль проявляется сбоем AES-декодера на данных.
func (c *sevenZipCodec) mapReadError(path, password string, err error) error {
	var re *sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted && password == "" {
		return apperrors.PasswordProtected("")
	}
	if password != "" {
		return apperrors.WrongPassword("")
	}
	return apperrors.Extraction(fmt.Sprintf("не удалось распаковать запись %q", path), err)
}

func (c *sevenZipCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	return nil, apperrors.UnsupportedFormat("запись 7z-архивов не поддерживается")
}

// CheckPassword проверяет пароль чтением первой файловой записи.
func (c *sevenZipCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	r, err := c.open(archivePath, password)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, zf := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return c.mapCheckError(password, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return c.mapCheckError(password, err)
		}
		return nil
	}
	return nil
}

// mapCheckError — парольная классификация для проверки пароля:
// сбой чтения зашифрованного потока без пароля — password_protected,
// иначе проверяемый пароль считается неверным.
func (c *sevenZipCodec) mapCheckError(password string, err error) error {
	var re *sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted && password == "" {
		return apperrors.PasswordProtected("")
	}
	return apperrors.WrongPassword("")
}
