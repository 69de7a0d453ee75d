package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestGateway(t *testing.T) *FSGateway {
	t.Helper()
	g, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("не удалось создать шлюз: %v", err)
	}
	return g
}

func TestPutGetRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	key := MakeKey(BucketArchive, "report.zip")
	if !strings.HasPrefix(key, BucketArchive+"/") {
		t.Fatalf("ключ должен начинаться с бакета: %q", key)
	}

	content := []byte("archive bytes")
	size, err := g.Put(ctx, key, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("запись завершилась ошибкой: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("размер записи: ожидалось %d, получено %d", len(content), size)
	}

	rc, err := g.Get(ctx, key)
	if err != nil {
		t.Fatalf("чтение завершилось ошибкой: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("не удалось прочитать объект: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое искажено: %q", got)
	}

	gotSize, err := g.Size(ctx, key)
	if err != nil || gotSize != int64(len(content)) {
		t.Errorf("Size: ожидалось %d, получено %d (ошибка %v)", len(content), gotSize, err)
	}
}

func TestGetMissing(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.Get(context.Background(), BucketArchive+"/missing.zip")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("ожидалась ошибка ErrNotExist, получено: %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	key := BucketFiles + "/doc.txt"
	if _, err := g.Put(ctx, key, strings.NewReader("x")); err != nil {
		t.Fatalf("запись завершилась ошибкой: %v", err)
	}
	if err := g.Delete(ctx, key); err != nil {
		t.Fatalf("удаление завершилось ошибкой: %v", err)
	}
	// Повторное удаление не ошибка.
	if err := g.Delete(ctx, key); err != nil {
		t.Errorf("повторное удаление должно быть идемпотентным: %v", err)
	}
	exists, err := g.Exists(ctx, key)
	if err != nil || exists {
		t.Errorf("объект должен отсутствовать (exists=%v, err=%v)", exists, err)
	}
}

func TestInvalidKeys(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	for _, key := range []string{"", "noslash", "archive/../escape", "archive//x", "../etc/passwd"} {
		if _, err := g.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("ключ %q должен быть отклонён", key)
		}
	}
}

func TestPutLeavesNoTempOnSuccess(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	key := BucketArchive + "/a.zip"
	if _, err := g.Put(ctx, key, strings.NewReader("data")); err != nil {
		t.Fatalf("запись завершилась ошибкой: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(g.DataDir(), BucketArchive))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("временный файл не должен оставаться после записи: %s", e.Name())
		}
	}
}

func TestDownloadUpload(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	key := MakeKey(BucketFiles, "src.bin")
	if _, err := Upload(ctx, g, key, local); err != nil {
		t.Fatalf("загрузка завершилась ошибкой: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "dst.bin")
	n, err := Download(ctx, g, key, dest)
	if err != nil {
		t.Fatalf("выгрузка завершилась ошибкой: %v", err)
	}
	if n != int64(len("payload")) {
		t.Errorf("размер выгрузки: ожидалось %d, получено %d", len("payload"), n)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "payload" {
		t.Errorf("содержимое после выгрузки искажено: %q (ошибка %v)", data, err)
	}
}

func TestMakeKeySanitization(t *testing.T) {
	key := MakeKey(BucketExtracted, "../../weird name!!.tar.gz")
	if strings.Contains(key, "..") || strings.Contains(key, " ") || strings.Contains(key, "!") {
		t.Errorf("ключ содержит небезопасные символы: %q", key)
	}
	if !strings.HasSuffix(key, ".gz") {
		t.Errorf("расширение должно сохраняться: %q", key)
	}
}
