// Пакет codec — кодеки форматов архивов.
// Каждый кодек инкапсулирует чтение и запись одного формата контейнера;
// расхождения возможностей (rar и 7z доступны только на чтение,
// шифрование поддерживает только zip) выражаются типизированными
// ошибками unsupported_format, а не паникой или тихой деградацией.
//
// Кодеки работают с файлами в рабочей директории задания: сервисный
// слой выгружает blob-ы во workspace, кодек читает и пишет локальные
// файлы. Все пути записей нормализованы к слэш-разделителям.
package codec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// DefaultCompressionLevel — уровень сжатия по умолчанию.
const DefaultCompressionLevel = 6

// maxListEntries — предохранитель от zip-бомб по количеству записей.
const maxListEntries = 100000

// CompressOptions — параметры упаковки.
type CompressOptions struct {
	// Level — уровень сжатия 1..9 (0 = DefaultCompressionLevel)
	Level int
	// Password — пароль шифрования ("" = без шифрования)
	Password string
}

// EffectiveLevel возвращает уровень сжатия с подстановкой умолчания.
func (o CompressOptions) EffectiveLevel() int {
	if o.Level == 0 {
		return DefaultCompressionLevel
	}
	return o.Level
}

// Codec — операции над одним форматом архива.
type Codec interface {
	// Format возвращает формат, который обслуживает кодек.
	Format() model.ArchiveFormat

	// List возвращает записи архива, включая синтезированные записи
	// каталогов, отсортированные по пути. Пароль нужен только форматам
	// с шифрованием оглавления (7z).
	List(ctx context.Context, archivePath, password string) ([]model.FileEntryInfo, error)

	// Extract распаковывает записи в destDir. only — подмножество
	// нормализованных путей (nil = все записи). Возвращает распакованные
	// файловые записи.
	Extract(ctx context.Context, archivePath, destDir, password string, only []string) ([]model.FileEntryInfo, error)

	// Compress упаковывает содержимое srcDir в archivePath.
	// Возвращает записи нового архива. Для форматов без поддержки
	// записи или шифрования — ошибка unsupported_format.
	Compress(ctx context.Context, archivePath, srcDir string, opts CompressOptions) ([]model.FileEntryInfo, error)

	// CheckPassword дёшево проверяет пароль: nil — пароль подходит,
	// wrong_password — не подходит, unsupported_format — формат
	// не поддерживает шифрование. Используется подборщиком паролей.
	CheckPassword(ctx context.Context, archivePath, password string) error
}

// Registry — реестр кодеков по формату.
type Registry struct {
	codecs map[model.ArchiveFormat]Codec
}

// NewRegistry создаёт реестр со всеми поддерживаемыми кодеками.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[model.ArchiveFormat]Codec)}
	for _, c := range []Codec{
		newZipCodec(),
		newTarCodec(),
		newGzipCodec(),
		newTarGzCodec(),
		newRarCodec(),
		newSevenZipCodec(),
	} {
		r.codecs[c.Format()] = c
	}
	return r
}

// Get возвращает кодек для формата.
func (r *Registry) Get(format model.ArchiveFormat) (Codec, error) {
	c, ok := r.codecs[format]
	if !ok {
		return nil, apperrors.UnsupportedFormat(fmt.Sprintf("нет кодека для формата %q", format))
	}
	return c, nil
}

// Сигнатуры форматов.
var (
	sigZip  = []byte{0x50, 0x4B, 0x03, 0x04}
	sigZip2 = []byte{0x50, 0x4B, 0x05, 0x06} // пустой zip
	sigRar  = []byte("Rar!\x1A\x07")
	sig7z   = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	sigGzip = []byte{0x1F, 0x8B}
)

// Detect определяет формат архива по сигнатуре содержимого.
// Для gzip дополнительно зондирует первые байты распакованного
// потока, чтобы отличить tar.gz от одиночного gz.
func (r *Registry) Detect(archivePath string) (model.ArchiveFormat, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", apperrors.Storage("не удалось открыть архив для определения формата", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", apperrors.InvalidArchive("не удалось прочитать заголовок архива", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, sigZip) || bytes.HasPrefix(head, sigZip2):
		return model.FormatZip, nil
	case bytes.HasPrefix(head, sigRar):
		return model.FormatRar, nil
	case bytes.HasPrefix(head, sig7z):
		return model.Format7z, nil
	case bytes.HasPrefix(head, sigGzip):
		if gzipContainsTar(f) {
			return model.FormatTarGz, nil
		}
		return model.FormatGzip, nil
	case isTarHeader(head):
		return model.FormatTar, nil
	}
	return "", apperrors.InvalidArchive("сигнатура архива не распознана", nil)
}

// isTarHeader проверяет магию ustar по смещению 257.
func isTarHeader(head []byte) bool {
	if len(head) < 262 {
		return false
	}
	return bytes.Equal(head[257:262], []byte("ustar"))
}

// gzipContainsTar распаковывает начало gzip-потока и ищет магию tar.
func gzipContainsTar(f *os.File) bool {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return false
	}
	defer zr.Close()

	head := make([]byte, 262)
	n, err := io.ReadFull(zr, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	return isTarHeader(head[:n])
}

// Convert перепаковывает архив в другой формат: полная распаковка
// исходным кодеком и упаковка целевым. Инкрементальной конвертации
// нет ни у одного из поддерживаемых контейнеров.
func Convert(ctx context.Context, src, dst Codec, srcPath, dstPath, workDir, password string, opts CompressOptions) ([]model.FileEntryInfo, error) {
	stageDir := filepath.Join(workDir, "convert_stage")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, apperrors.Storage("не удалось создать директорию конвертации", err)
	}
	if _, err := src.Extract(ctx, srcPath, stageDir, password, nil); err != nil {
		return nil, err
	}
	return dst.Compress(ctx, dstPath, stageDir, opts)
}

// Rewrite реализует модификацию архива через цикл
// распаковать → изменить → переупаковать: ни один из поддерживаемых
// контейнеров не допускает надёжного инкрементального изменения.
// mutate получает директорию с распакованным содержимым.
func Rewrite(ctx context.Context, c Codec, archivePath, workDir, password string, opts CompressOptions, mutate func(stageDir string) error) ([]model.FileEntryInfo, error) {
	stageDir := filepath.Join(workDir, "rewrite_stage")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, apperrors.Storage("не удалось создать директорию переупаковки", err)
	}
	if _, err := c.Extract(ctx, archivePath, stageDir, password, nil); err != nil {
		return nil, err
	}
	if err := mutate(stageDir); err != nil {
		return nil, err
	}

	// Переупаковка во временный файл и атомарная замена оригинала.
	tmpPath := archivePath + ".rewrite"
	entries, err := c.Compress(ctx, tmpPath, stageDir, opts)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return nil, apperrors.Storage("не удалось заменить архив после переупаковки", err)
	}
	return entries, nil
}

// sourceEntry — один элемент источника упаковки.
type sourceEntry struct {
	// relPath — нормализованный путь внутри архива
	relPath string
	// absPath — абсолютный путь в файловой системе
	absPath string
	isDir   bool
	size    int64
}

// collectSource обходит srcDir и возвращает элементы в порядке путей.
func collectSource(srcDir string) ([]sourceEntry, error) {
	var entries []sourceEntry
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		relPath := filepath.ToSlash(rel)
		if info.IsDir() {
			relPath += "/"
		}
		entries = append(entries, sourceEntry{
			relPath: relPath,
			absPath: path,
			isDir:   info.IsDir(),
			size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.Compression("не удалось обойти источник упаковки", err)
	}
	if len(entries) == 0 {
		return nil, apperrors.Validation("источник упаковки пуст")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, nil
}

// secureJoin присоединяет нормализованный путь записи к destDir,
// отклоняя выход за его пределы.
func secureJoin(destDir, entryPath string) (string, error) {
	normalized, err := model.NormalizeEntryPath(entryPath)
	if err != nil {
		return "", apperrors.InvalidArchive(err.Error(), nil)
	}
	target := filepath.Join(destDir, filepath.FromSlash(normalized))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", apperrors.InvalidArchive(fmt.Sprintf("путь записи %q выходит за пределы директории распаковки", entryPath), nil)
	}
	return target, nil
}

// synthesizeDirEntries дополняет список недостающими записями каталогов
// и сортирует результат по пути. Контейнеры хранят каталоги
// непоследовательно, листинг обязан быть детерминированным.
func synthesizeDirEntries(entries []model.FileEntryInfo) []model.FileEntryInfo {
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Path] = true
	}
	result := append([]model.FileEntryInfo(nil), entries...)
	for _, e := range entries {
		dir := parentDir(e.Path)
		for dir != "" {
			if !present[dir] {
				present[dir] = true
				result = append(result, model.FileEntryInfo{Path: dir, IsDirectory: true})
			}
			dir = parentDir(dir)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// parentDir возвращает родительский каталог пути записи со слэшем
// на конце ("" для записей в корне архива).
func parentDir(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// wantEntry проверяет вхождение пути в подмножество распаковки.
// Пути каталогов в only выбирают всё поддерево.
func wantEntry(path string, only []string) bool {
	if len(only) == 0 {
		return true
	}
	for _, o := range only {
		if path == o {
			return true
		}
		if strings.HasSuffix(o, "/") && strings.HasPrefix(path, o) {
			return true
		}
	}
	return false
}

// writeFileStreaming записывает содержимое записи в файл назначения.
func writeFileStreaming(target string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
