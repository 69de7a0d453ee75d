package codec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// writeTree создаёт дерево файлов: путь со слэшем на конце — каталог.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("не удалось создать каталог для %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("не удалось записать %s: %v", path, err)
		}
	}
}

// readTree читает все файлы из dir в карту нормализованных путей.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	result := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("не удалось прочитать дерево %s: %v", dir, err)
	}
	return result
}

var sampleTree = map[string]string{
	"a.txt":   "hi",
	"b/c.txt": "bye",
}

func entryPaths(entries []model.FileEntryInfo) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}

// TestRoundTripWritableFormats — цикл упаковка → листинг → распаковка
// для форматов с поддержкой записи.
func TestRoundTripWritableFormats(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	cases := []struct {
		format  model.ArchiveFormat
		tree    map[string]string
		entries []string
	}{
		{model.FormatZip, sampleTree, []string{"a.txt", "b/", "b/c.txt"}},
		{model.FormatTar, sampleTree, []string{"a.txt", "b/", "b/c.txt"}},
		{model.FormatTarGz, sampleTree, []string{"a.txt", "b/", "b/c.txt"}},
		{model.FormatGzip, map[string]string{"a.txt": "hi"}, []string{"a.txt"}},
	}

	for _, tc := range cases {
		t.Run(string(tc.format), func(t *testing.T) {
			c, err := reg.Get(tc.format)
			if err != nil {
				t.Fatalf("кодек %s не найден: %v", tc.format, err)
			}
			srcDir := t.TempDir()
			writeTree(t, srcDir, tc.tree)
			archivePath := filepath.Join(t.TempDir(), "archive.bin")

			if _, err := c.Compress(ctx, archivePath, srcDir, CompressOptions{}); err != nil {
				t.Fatalf("упаковка %s завершилась ошибкой: %v", tc.format, err)
			}

			entries, err := c.List(ctx, archivePath, "")
			if err != nil {
				t.Fatalf("листинг %s завершился ошибкой: %v", tc.format, err)
			}
			got := entryPaths(entries)
			if len(got) != len(tc.entries) {
				t.Fatalf("ожидалось %d записей %v, получено %v", len(tc.entries), tc.entries, got)
			}
			for i, want := range tc.entries {
				if got[i] != want {
					t.Errorf("запись %d: ожидалось %q, получено %q", i, want, got[i])
				}
			}

			destDir := t.TempDir()
			if _, err := c.Extract(ctx, archivePath, destDir, "", nil); err != nil {
				t.Fatalf("распаковка %s завершилась ошибкой: %v", tc.format, err)
			}
			extracted := readTree(t, destDir)
			for path, content := range tc.tree {
				if extracted[path] != content {
					t.Errorf("содержимое %s: ожидалось %q, получено %q", path, content, extracted[path])
				}
			}
		})
	}
}

// TestZipEncryptionRoundTrip — шифрование при упаковке, распаковка
// с верным паролем, отказ при неверном и отсутствующем.
func TestZipEncryptionRoundTrip(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	c, _ := reg.Get(model.FormatZip)

	srcDir := t.TempDir()
	writeTree(t, srcDir, sampleTree)
	archivePath := filepath.Join(t.TempDir(), "secret.zip")

	if _, err := c.Compress(ctx, archivePath, srcDir, CompressOptions{Password: "s3cret"}); err != nil {
		t.Fatalf("упаковка с паролем завершилась ошибкой: %v", err)
	}

	// Верный пароль.
	destDir := t.TempDir()
	if _, err := c.Extract(ctx, archivePath, destDir, "s3cret", nil); err != nil {
		t.Fatalf("распаковка с верным паролем завершилась ошибкой: %v", err)
	}
	extracted := readTree(t, destDir)
	if extracted["a.txt"] != "hi" || extracted["b/c.txt"] != "bye" {
		t.Errorf("содержимое после расшифровки искажено: %v", extracted)
	}

	// Без пароля.
	_, err := c.Extract(ctx, archivePath, t.TempDir(), "", nil)
	if apperrors.CodeOf(err) != apperrors.CodePasswordProtected {
		t.Errorf("без пароля ожидался код password_protected, получено: %v", err)
	}

	// Неверный пароль.
	_, err = c.Extract(ctx, archivePath, t.TempDir(), "wrong", nil)
	if apperrors.CodeOf(err) != apperrors.CodeWrongPassword {
		t.Errorf("с неверным паролем ожидался код wrong_password, получено: %v", err)
	}

	// CheckPassword согласован с Extract.
	if err := c.CheckPassword(ctx, archivePath, "s3cret"); err != nil {
		t.Errorf("CheckPassword с верным паролем вернул ошибку: %v", err)
	}
	if err := c.CheckPassword(ctx, archivePath, "wrong"); apperrors.CodeOf(err) != apperrors.CodeWrongPassword {
		t.Errorf("CheckPassword с неверным паролем: ожидался wrong_password, получено %v", err)
	}
}

// TestSelectiveExtract — распаковка подмножества путей,
// каталог в подмножестве выбирает поддерево.
func TestSelectiveExtract(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	c, _ := reg.Get(model.FormatZip)

	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"a.txt":   "hi",
		"b/c.txt": "bye",
		"b/d.txt": "again",
	})
	archivePath := filepath.Join(t.TempDir(), "sel.zip")
	if _, err := c.Compress(ctx, archivePath, srcDir, CompressOptions{}); err != nil {
		t.Fatalf("упаковка завершилась ошибкой: %v", err)
	}

	destDir := t.TempDir()
	entries, err := c.Extract(ctx, archivePath, destDir, "", []string{"b/"})
	if err != nil {
		t.Fatalf("выборочная распаковка завершилась ошибкой: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ожидались 2 записи поддерева b/, получено: %v", entryPaths(entries))
	}
	extracted := readTree(t, destDir)
	if _, ok := extracted["a.txt"]; ok {
		t.Error("a.txt не входит в подмножество, но был распакован")
	}
	if extracted["b/c.txt"] != "bye" || extracted["b/d.txt"] != "again" {
		t.Errorf("поддерево b/ распаковано неверно: %v", extracted)
	}
}

// TestRewriteAddRemove — модификация архива через переупаковку:
// добавление и удаление записей.
func TestRewriteAddRemove(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	c, _ := reg.Get(model.FormatZip)

	srcDir := t.TempDir()
	writeTree(t, srcDir, sampleTree)
	archivePath := filepath.Join(t.TempDir(), "mut.zip")
	if _, err := c.Compress(ctx, archivePath, srcDir, CompressOptions{}); err != nil {
		t.Fatalf("упаковка завершилась ошибкой: %v", err)
	}

	// Добавление новой записи.
	entries, err := Rewrite(ctx, c, archivePath, t.TempDir(), "", CompressOptions{}, func(stageDir string) error {
		return os.WriteFile(filepath.Join(stageDir, "new.txt"), []byte("added"), 0o644)
	})
	if err != nil {
		t.Fatalf("переупаковка с добавлением завершилась ошибкой: %v", err)
	}
	got := entryPaths(entries)
	want := []string{"a.txt", "b/", "b/c.txt", "new.txt"}
	if len(got) != len(want) {
		t.Fatalf("после добавления ожидалось %v, получено %v", want, got)
	}

	// Удаление записи.
	entries, err = Rewrite(ctx, c, archivePath, t.TempDir(), "", CompressOptions{}, func(stageDir string) error {
		return os.Remove(filepath.Join(stageDir, "a.txt"))
	})
	if err != nil {
		t.Fatalf("переупаковка с удалением завершилась ошибкой: %v", err)
	}
	for _, e := range entries {
		if e.Path == "a.txt" {
			t.Error("запись a.txt должна была быть удалена")
		}
	}
}

// TestConvert — конвертация zip → tar.gz сохраняет содержимое.
func TestConvert(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	src, _ := reg.Get(model.FormatZip)
	dst, _ := reg.Get(model.FormatTarGz)

	srcDir := t.TempDir()
	writeTree(t, srcDir, sampleTree)
	zipPath := filepath.Join(t.TempDir(), "in.zip")
	if _, err := src.Compress(ctx, zipPath, srcDir, CompressOptions{}); err != nil {
		t.Fatalf("упаковка zip завершилась ошибкой: %v", err)
	}

	tgzPath := filepath.Join(t.TempDir(), "out.tar.gz")
	entries, err := Convert(ctx, src, dst, zipPath, tgzPath, t.TempDir(), "", CompressOptions{})
	if err != nil {
		t.Fatalf("конвертация завершилась ошибкой: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("после конвертации ожидались 3 записи, получено: %v", entryPaths(entries))
	}

	destDir := t.TempDir()
	if _, err := dst.Extract(ctx, tgzPath, destDir, "", nil); err != nil {
		t.Fatalf("распаковка результата конвертации завершилась ошибкой: %v", err)
	}
	extracted := readTree(t, destDir)
	if extracted["a.txt"] != "hi" || extracted["b/c.txt"] != "bye" {
		t.Errorf("содержимое после конвертации искажено: %v", extracted)
	}
}

// TestDetect — определение формата по сигнатуре содержимого.
func TestDetect(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	for _, format := range []model.ArchiveFormat{model.FormatZip, model.FormatTar, model.FormatTarGz, model.FormatGzip} {
		t.Run(string(format), func(t *testing.T) {
			c, _ := reg.Get(format)
			srcDir := t.TempDir()
			if format == model.FormatGzip {
				writeTree(t, srcDir, map[string]string{"a.txt": "hi"})
			} else {
				writeTree(t, srcDir, sampleTree)
			}
			archivePath := filepath.Join(t.TempDir(), "probe.bin")
			if _, err := c.Compress(ctx, archivePath, srcDir, CompressOptions{}); err != nil {
				t.Fatalf("упаковка завершилась ошибкой: %v", err)
			}
			detected, err := reg.Detect(archivePath)
			if err != nil {
				t.Fatalf("определение формата завершилось ошибкой: %v", err)
			}
			if detected != format {
				t.Errorf("ожидался формат %s, определён %s", format, detected)
			}
		})
	}

	// Нераспознанное содержимое.
	junk := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(junk, []byte("definitely not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Detect(junk); apperrors.CodeOf(err) != apperrors.CodeInvalidArchive {
		t.Errorf("для мусора ожидался код invalid_archive, получено: %v", err)
	}
}

// TestReadOnlyFormats — запись rar и 7z отклоняется типизированной ошибкой.
func TestReadOnlyFormats(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	for _, format := range []model.ArchiveFormat{model.FormatRar, model.Format7z} {
		c, _ := reg.Get(format)
		srcDir := t.TempDir()
		writeTree(t, srcDir, sampleTree)
		_, err := c.Compress(ctx, filepath.Join(t.TempDir(), "out.bin"), srcDir, CompressOptions{})
		if apperrors.CodeOf(err) != apperrors.CodeUnsupportedFormat {
			t.Errorf("упаковка %s: ожидался код unsupported_format, получено: %v", format, err)
		}
	}
}

// TestPasswordOnPlainFormats — шифрование вне zip отклоняется.
func TestPasswordOnPlainFormats(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	for _, format := range []model.ArchiveFormat{model.FormatTar, model.FormatGzip, model.FormatTarGz} {
		c, _ := reg.Get(format)
		srcDir := t.TempDir()
		writeTree(t, srcDir, map[string]string{"a.txt": "hi"})
		_, err := c.Compress(ctx, filepath.Join(t.TempDir(), "out.bin"), srcDir, CompressOptions{Password: "x"})
		if apperrors.CodeOf(err) != apperrors.CodeUnsupportedFormat {
			t.Errorf("упаковка %s с паролем: ожидался unsupported_format, получено: %v", format, err)
		}
	}
}

// TestGzipSingleFileOnly — gz отклоняет более одного источника.
func TestGzipSingleFileOnly(t *testing.T) {
	reg := NewRegistry()
	c, _ := reg.Get(model.FormatGzip)

	srcDir := t.TempDir()
	writeTree(t, srcDir, sampleTree)
	_, err := c.Compress(context.Background(), filepath.Join(t.TempDir(), "out.gz"), srcDir, CompressOptions{})
	if apperrors.CodeOf(err) != apperrors.CodeUnsupportedFormat {
		t.Errorf("ожидался код unsupported_format, получено: %v", err)
	}
}

// TestUnknownFormat — запрос кодека для неизвестного формата.
func TestUnknownFormat(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(model.ArchiveFormat("cab"))
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeUnsupportedFormat {
		t.Errorf("ожидался код unsupported_format, получено: %v", err)
	}
}

// TestCancellation — контекстная отмена прерывает упаковку.
func TestCancellation(t *testing.T) {
	reg := NewRegistry()
	c, _ := reg.Get(model.FormatZip)

	srcDir := t.TempDir()
	writeTree(t, srcDir, sampleTree)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compress(ctx, filepath.Join(t.TempDir(), "out.zip"), srcDir, CompressOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась ошибка context.Canceled, получено: %v", err)
	}
}
