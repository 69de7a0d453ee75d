// Пакет model — доменные модели Archive Engine.
// ArchiveInfo — единая структура метаданных архива, используется
// как in-memory представление и как строка таблицы archive_registry.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ArchiveFormat — формат архива. Закрытое множество:
// новые форматы добавляются только вместе с кодеком.
type ArchiveFormat string

const (
	FormatZip   ArchiveFormat = "zip"
	FormatRar   ArchiveFormat = "rar"
	Format7z    ArchiveFormat = "7z"
	FormatTar   ArchiveFormat = "tar"
	FormatGzip  ArchiveFormat = "gz"
	FormatTarGz ArchiveFormat = "tar.gz"
)

// SupportedFormats — список поддерживаемых форматов в порядке объявления.
var SupportedFormats = []ArchiveFormat{
	FormatZip, FormatRar, Format7z, FormatTar, FormatGzip, FormatTarGz,
}

// ParseFormat преобразует строку в ArchiveFormat.
// Возвращает ошибку для неизвестных форматов.
func ParseFormat(s string) (ArchiveFormat, error) {
	f := ArchiveFormat(strings.ToLower(strings.TrimPrefix(s, ".")))
	for _, known := range SupportedFormats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("неизвестный формат архива: %q", s)
}

// MimeType возвращает MIME-тип для формата архива.
func (f ArchiveFormat) MimeType() string {
	switch f {
	case FormatZip:
		return "application/zip"
	case FormatRar:
		return "application/vnd.rar"
	case Format7z:
		return "application/x-7z-compressed"
	case FormatTar:
		return "application/x-tar"
	case FormatGzip, FormatTarGz:
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}

// FormatFromFilename определяет формат архива по имени файла.
// Учитывает составное расширение .tar.gz. Возвращает ошибку,
// если расширение не соответствует поддерживаемому формату.
func FormatFromFilename(filename string) (ArchiveFormat, error) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return FormatTarGz, nil
	}
	idx := strings.LastIndex(lower, ".")
	if idx < 0 {
		return "", fmt.Errorf("имя файла %q не содержит расширения", filename)
	}
	return ParseFormat(lower[idx+1:])
}

// ArchiveStatus — статус архива в жизненном цикле.
// Переходы монотонны: created → ready → trashed → purged,
// единственный обратный переход — trashed → ready (восстановление
// из корзины до истечения срока хранения).
type ArchiveStatus string

const (
	// StatusCreated — запись создана, байты ещё не зафиксированы
	StatusCreated ArchiveStatus = "created"
	// StatusReady — архив доступен для операций
	StatusReady ArchiveStatus = "ready"
	// StatusTrashed — в корзине, исключён из обычных списков
	StatusTrashed ArchiveStatus = "trashed"
	// StatusPurged — байты и метаданные удалены безвозвратно (терминальный)
	StatusPurged ArchiveStatus = "purged"
)

// validStatusTransitions — матрица допустимых переходов статуса.
var validStatusTransitions = map[ArchiveStatus]map[ArchiveStatus]bool{
	StatusCreated: {StatusReady: true},
	StatusReady:   {StatusTrashed: true},
	StatusTrashed: {StatusReady: true, StatusPurged: true},
	StatusPurged:  {}, // Терминальный статус — переходы запрещены
}

// CanTransitionTo проверяет, допустим ли переход в указанный статус.
func (s ArchiveStatus) CanTransitionTo(target ArchiveStatus) bool {
	transitions, ok := validStatusTransitions[s]
	if !ok {
		return false
	}
	return transitions[target]
}

// ArchiveInfo — метаданные архива. Соответствует строке archive_registry.
// Сервисный слой держит транзиентную копию только на время удержания
// блокировки, никогда не кэширует её между операциями.
type ArchiveInfo struct {
	// ArchiveID — уникальный идентификатор архива (UUID v4)
	ArchiveID string `json:"archive_id"`

	// OwnerID — идентификатор пользователя-владельца
	OwnerID string `json:"owner_id"`

	// Name — отображаемое имя архива
	Name string `json:"name"`

	// Format — заявленный формат архива
	Format ArchiveFormat `json:"format"`

	// StorageKey — ключ байтов архива в blob-хранилище
	StorageKey string `json:"storage_key"`

	// Size — размер архива в байтах
	Size int64 `json:"size"`

	// EntryCount — количество файловых записей в архиве
	EntryCount int `json:"entry_count"`

	// Encrypted — архив защищён паролем
	Encrypted bool `json:"encrypted"`

	// Status — текущий статус жизненного цикла
	Status ArchiveStatus `json:"status"`

	// CreatedAt — дата и время создания (UTC)
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — дата и время последнего изменения (UTC)
	UpdatedAt time.Time `json:"updated_at"`
}

// IsReady проверяет, что архив доступен для операций.
func (a *ArchiveInfo) IsReady() bool {
	return a.Status == StatusReady
}

// FileEntryInfo — запись (файл или каталог) внутри архива.
// Эфемерна: пересчитывается листингом архива, отдельно не персистируется.
type FileEntryInfo struct {
	// Path — нормализованный путь внутри архива (слэш-разделители).
	// Каталоги оканчиваются на "/".
	Path string `json:"path"`

	// Size — размер в распакованном виде
	Size int64 `json:"size"`

	// CompressedSize — размер в сжатом виде (0, если формат не сообщает)
	CompressedSize int64 `json:"compressed_size"`

	// Checksum — контрольная сумма записи (CRC32 hex, "" если недоступна)
	Checksum string `json:"checksum,omitempty"`

	// IsDirectory — запись является каталогом
	IsDirectory bool `json:"is_directory"`
}

// ExtractedArchiveInfo — результат распаковки: набор выходных blob-ов,
// каждый привязан к ключу хранилища и записи архива.
type ExtractedArchiveInfo struct {
	// ArchiveID — идентификатор исходного архива
	ArchiveID string `json:"archive_id"`

	// JobID — идентификатор задания, породившего распаковку
	JobID string `json:"job_id"`

	// Outputs — выходные объекты: запись архива → ключ хранилища
	Outputs []ExtractedEntry `json:"outputs"`

	// TotalSize — суммарный размер распакованных данных
	TotalSize int64 `json:"total_size"`

	// CreatedAt — время завершения распаковки (UTC)
	CreatedAt time.Time `json:"created_at"`
}

// ExtractedEntry — один выходной blob распаковки.
type ExtractedEntry struct {
	Entry      FileEntryInfo `json:"entry"`
	StorageKey string        `json:"storage_key"`
}

// ProcessingStatus — статус обработки задания.
type ProcessingStatus string

const (
	// ProcessingRunning — задание выполняется
	ProcessingRunning ProcessingStatus = "running"
	// ProcessingCompleted — задание завершено успешно
	ProcessingCompleted ProcessingStatus = "completed"
	// ProcessingFailed — задание завершено с ошибкой
	ProcessingFailed ProcessingStatus = "failed"
)

// ArchiveProcessingInfo — состояние задания. Используется для
// идемпотентного повтора: при повторной доставке задания с тем же
// job_id возвращается сохранённый терминальный результат.
type ArchiveProcessingInfo struct {
	// JobID — уникальный идентификатор задания (назначается источником)
	JobID string `json:"job_id"`

	// ArchiveID — идентификатор архива ("" для операций без архива)
	ArchiveID string `json:"archive_id,omitempty"`

	// Operation — тип операции (extract, compress, crack и т.д.)
	Operation string `json:"operation"`

	// Status — текущий статус задания
	Status ProcessingStatus `json:"status"`

	// ErrorCode — машиночитаемый код ошибки ("" при успехе)
	ErrorCode string `json:"error_code,omitempty"`

	// ErrorMessage — описание ошибки ("" при успехе)
	ErrorMessage string `json:"error_message,omitempty"`

	// Result — произвольный результат операции (JSON-сериализуемый)
	Result map[string]any `json:"result,omitempty"`

	// StartedAt — время начала обработки (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения, nil пока задание выполняется
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal проверяет, что задание достигло терминального состояния.
func (p *ArchiveProcessingInfo) IsTerminal() bool {
	return p.Status == ProcessingCompleted || p.Status == ProcessingFailed
}

// TrashRecord — запись корзины для архива в статусе trashed.
// Срок хранения фиксируется в момент удаления и последующими
// попытками восстановления не продлевается.
type TrashRecord struct {
	// ArchiveID — идентификатор архива
	ArchiveID string `json:"archive_id"`

	// DeletedAt — момент перемещения в корзину (UTC)
	DeletedAt time.Time `json:"deleted_at"`

	// RetentionDeadline — момент, после которого архив подлежит purge
	RetentionDeadline time.Time `json:"retention_deadline"`
}

// Restorable проверяет, допустимо ли восстановление на момент now.
func (t *TrashRecord) Restorable(now time.Time) bool {
	return now.Before(t.RetentionDeadline)
}

// CrackStrategy — стратегия подбора пароля.
type CrackStrategy string

const (
	// StrategyDictionary — перебор по словарю
	StrategyDictionary CrackStrategy = "dictionary"
	// StrategyBruteforce — полный перебор по алфавиту до заданной длины
	StrategyBruteforce CrackStrategy = "bruteforce"
)

// ParseCrackStrategy преобразует строку в CrackStrategy.
func ParseCrackStrategy(s string) (CrackStrategy, error) {
	switch CrackStrategy(strings.ToLower(s)) {
	case StrategyDictionary:
		return StrategyDictionary, nil
	case StrategyBruteforce:
		return StrategyBruteforce, nil
	default:
		return "", fmt.Errorf("неизвестная стратегия подбора: %q", s)
	}
}

// CrackOutcome — исход подбора пароля. Исход cancelled сообщается
// отдельно от exhausted: вызывающая сторона должна знать, что
// пространство поиска не было пройдено полностью.
type CrackOutcome string

const (
	// OutcomeFound — пароль найден
	OutcomeFound CrackOutcome = "found"
	// OutcomeExhausted — всё ограниченное пространство пройдено без совпадений
	OutcomeExhausted CrackOutcome = "exhausted"
	// OutcomeCancelled — поиск прерван внешним запросом или дедлайном
	OutcomeCancelled CrackOutcome = "cancelled"
)

// CrackAttempt — результат одного запуска подбора пароля.
type CrackAttempt struct {
	// Strategy — использованная стратегия
	Strategy CrackStrategy `json:"strategy"`

	// Outcome — исход поиска
	Outcome CrackOutcome `json:"outcome"`

	// Password — найденный пароль ("" если не найден)
	Password string `json:"password,omitempty"`

	// Attempts — количество проверенных кандидатов
	Attempts int64 `json:"attempts"`

	// Checkpoint — индекс последнего проверенного кандидата словаря.
	// Используется для возобновления словарного поиска после отмены.
	Checkpoint int64 `json:"checkpoint,omitempty"`

	// Duration — длительность поиска
	Duration time.Duration `json:"duration"`
}

// NormalizeEntryPath нормализует путь записи внутри архива:
// приводит разделители к "/", убирает ведущие "/" и "./".
// Возвращает ошибку, если путь пуст после нормализации или
// выходит за пределы корня архива через сегменты "..".
func NormalizeEntryPath(p string) (string, error) {
	normalized := strings.ReplaceAll(p, "\\", "/")
	isDir := strings.HasSuffix(normalized, "/")

	var parts []string
	for _, seg := range strings.Split(normalized, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("путь %q выходит за пределы корня архива", p)
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("пустой путь записи: %q", p)
	}

	result := strings.Join(parts, "/")
	if isDir {
		result += "/"
	}
	return result, nil
}
