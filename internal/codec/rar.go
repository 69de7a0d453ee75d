package codec

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode/v2"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// rarCodec — кодек формата rar. Проприетарный формат: доступен
// только на чтение, любая запись отклоняется с unsupported_format.
type rarCodec struct{}

func newRarCodec() *rarCodec { return &rarCodec{} }

func (c *rarCodec) Format() model.ArchiveFormat { return model.FormatRar }

func (c *rarCodec) open(archivePath, password string) (*rardecode.ReadCloser, error) {
	var opts []rardecode.Option
	if password != "" {
		opts = append(opts, rardecode.Password(password))
	}
	r, err := rardecode.OpenReader(archivePath, opts...)
	if err != nil {
		return nil, classifyRarError(password, err, apperrors.InvalidArchive("не удалось открыть rar-архив", err))
	}
	return r, nil
}

// classifyRarError отделяет парольные ошибки декодера от повреждений.
// Зашифрованные заголовки или записи без переданного пароля —
// password_protected; с паролем любой парольный сбой — wrong_password.
func classifyRarError(password string, err error, fallback error) error {
	switch {
	case errors.Is(err, rardecode.ErrArchiveEncrypted),
		errors.Is(err, rardecode.ErrArchivedFileEncrypted):
		if password == "" {
			return apperrors.PasswordProtected("")
		}
		return apperrors.WrongPassword("")
	case errors.Is(err, rardecode.ErrBadPassword):
		return apperrors.WrongPassword("")
	case password != "":
		// Неверный пароль к rar4-архивам проявляется мусором на
		// расшифровке без отдельного сигнального значения.
		return apperrors.WrongPassword("")
	}
	return fallback
}

func (c *rarCodec) List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error) {
	r, err := c.open(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []model.FileEntryInfo
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyRarError(password, err, apperrors.InvalidArchive("повреждённый заголовок rar", err))
		}
		if len(entries) >= maxListEntries {
			return nil, apperrors.InvalidArchive(fmt.Sprintf("архив содержит слишком много записей: >%d", maxListEntries), nil)
		}
		path, err := model.NormalizeEntryPath(hdr.Name)
		if err != nil {
			return nil, apperrors.InvalidArchive(err.Error(), nil)
		}
		if hdr.IsDir {
			entries = append(entries, model.FileEntryInfo{Path: path + "/", IsDirectory: true})
			continue
		}
		entries = append(entries, model.FileEntryInfo{
			Path: path,
			Size: hdr.UnPackedSize,
		})
	}
	return synthesizeDirEntries(entries), nil
}

func (c *rarCodec) Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error) {
	r, err := c.open(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var extracted []model.FileEntryInfo
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyRarError(password, err, apperrors.InvalidArchive("повреждённый заголовок rar", err))
		}
		if hdr.IsDir {
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
		n, err := writeFileStreaming(target, r)
		if err != nil {
			// Неверный пароль при пофайловом шифровании проявляется
			// сбоем декодера на чтении данных.
			return nil, classifyRarError(password, err,
				apperrors.Extraction(fmt.Sprintf("не удалось распаковать запись %q", path), err))
		}
		extracted = append(extracted, model.FileEntryInfo{Path: path, Size: n})
	}
	return extracted, nil
}

func (c *rarCodec) Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	return nil, apperrors.UnsupportedFormat("запись rar-архивов не поддерживается")
}

// CheckPassword проверяет пароль чтением первой файловой записи.
func (c *rarCodec) CheckPassword(ctx context.Context, archivePath, password string) error {
	r, err := c.open(archivePath, password)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return classifyRarError(password, err, apperrors.WrongPassword(""))
		}
		if hdr.IsDir {
			continue
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			return classifyRarError(password, err, apperrors.WrongPassword(""))
		}
		return nil
	}
}
