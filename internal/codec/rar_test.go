package codec

import (
	"errors"
	"testing"

	"github.com/nwaples/rardecode/v2"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
)

func TestClassifyRarError(t *testing.T) {
	fallback := apperrors.InvalidArchive("не удалось открыть rar-архив", nil)

	// Зашифрованные заголовки без пароля — password_protected,
	// а не повреждение: вызывающая сторона должна запросить пароль.
	err := classifyRarError("", rardecode.ErrArchiveEncrypted, fallback)
	if apperrors.CodeOf(err) != apperrors.CodePasswordProtected {
		t.Errorf("зашифрованные заголовки без пароля: ожидался password_protected, получено %v", err)
	}
	err = classifyRarError("", rardecode.ErrArchivedFileEncrypted, fallback)
	if apperrors.CodeOf(err) != apperrors.CodePasswordProtected {
		t.Errorf("зашифрованные записи без пароля: ожидался password_protected, получено %v", err)
	}

	// С переданным паролем любой парольный сбой — wrong_password.
	err = classifyRarError("guess", rardecode.ErrArchiveEncrypted, fallback)
	if apperrors.CodeOf(err) != apperrors.CodeWrongPassword {
		t.Errorf("зашифрованные заголовки с паролем: ожидался wrong_password, получено %v", err)
	}
	err = classifyRarError("guess", rardecode.ErrBadPassword, fallback)
	if apperrors.CodeOf(err) != apperrors.CodeWrongPassword {
		t.Errorf("неверный пароль: ожидался wrong_password, получено %v", err)
	}

	// Повреждение без пароля остаётся повреждением.
	err = classifyRarError("", errors.New("rardecode: bad header crc"), fallback)
	if apperrors.CodeOf(err) != apperrors.CodeInvalidArchive {
		t.Errorf("повреждение без пароля: ожидался invalid_archive, получено %v", err)
	}
}
