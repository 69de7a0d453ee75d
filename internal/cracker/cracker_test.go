package cracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkerFor возвращает CheckFunc, принимающий единственный пароль.
func checkerFor(secret string) CheckFunc {
	return func(ctx context.Context, password string) error {
		if password == secret {
			return nil
		}
		return apperrors.WrongPassword("")
	}
}

func TestDictionaryFound(t *testing.T) {
	c := New(4, 1000000, 1000, testLogger())
	wordlist := strings.NewReader("alpha\nbeta\n\nsecret\ndelta\n")

	attempt, err := c.Dictionary(context.Background(), checkerFor("secret"), wordlist, 0)
	if err != nil {
		t.Fatalf("подбор завершился ошибкой: %v", err)
	}
	if attempt.Outcome != model.OutcomeFound {
		t.Fatalf("ожидался исход found, получен %s", attempt.Outcome)
	}
	if attempt.Password != "secret" {
		t.Errorf("ожидался пароль secret, получен %q", attempt.Password)
	}
	if attempt.Attempts < 1 {
		t.Errorf("счётчик попыток не должен быть нулевым: %d", attempt.Attempts)
	}
}

func TestDictionaryExhausted(t *testing.T) {
	c := New(2, 1000000, 1000, testLogger())
	wordlist := strings.NewReader("alpha\nbeta\ngamma\n")

	attempt, err := c.Dictionary(context.Background(), checkerFor("absent"), wordlist, 0)
	if err != nil {
		t.Fatalf("подбор завершился ошибкой: %v", err)
	}
	if attempt.Outcome != model.OutcomeExhausted {
		t.Fatalf("ожидался исход exhausted, получен %s", attempt.Outcome)
	}
	if attempt.Attempts != 3 {
		t.Errorf("ожидалось 3 попытки, получено %d", attempt.Attempts)
	}
	if attempt.Checkpoint != 3 {
		t.Errorf("checkpoint после исчерпания: ожидалось 3, получено %d", attempt.Checkpoint)
	}
}

func TestDictionaryCheckpointResume(t *testing.T) {
	c := New(1, 1000000, 1000, testLogger())
	var checked []string
	check := func(ctx context.Context, password string) error {
		checked = append(checked, password)
		return apperrors.WrongPassword("")
	}

	wordlist := strings.NewReader("alpha\nbeta\ngamma\ndelta\n")
	attempt, err := c.Dictionary(context.Background(), check, wordlist, 2)
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Attempts != 2 {
		t.Fatalf("после checkpoint=2 ожидалось 2 попытки, получено %d", attempt.Attempts)
	}
	if len(checked) != 2 || checked[0] != "gamma" || checked[1] != "delta" {
		t.Errorf("возобновление должно пропустить проверенные слова: %v", checked)
	}
}

func TestDictionaryWordlistLimit(t *testing.T) {
	c := New(2, 1000000, 3, testLogger())
	wordlist := strings.NewReader("a\nb\nc\nd\n")

	_, err := c.Dictionary(context.Background(), checkerFor("absent"), wordlist, 0)
	if apperrors.CodeOf(err) != apperrors.CodeCrackPassword {
		t.Fatalf("превышение предела словаря: ожидался crack_password_error, получено %v", err)
	}
}

// TestDictionaryFoundBeforeLimit — пароль, найденный в пределах
// лимита словаря, не теряется из-за последующей ошибки генератора
// на словах за лимитом.
func TestDictionaryFoundBeforeLimit(t *testing.T) {
	c := New(2, 1000000, 2, testLogger())
	wordlist := strings.NewReader("secret\naaa\nbbb\nccc\n")

	attempt, err := c.Dictionary(context.Background(), checkerFor("secret"), wordlist, 0)
	if err != nil {
		t.Fatalf("найденный пароль важнее превышения лимита: %v", err)
	}
	if attempt.Outcome != model.OutcomeFound || attempt.Password != "secret" {
		t.Fatalf("ожидался пароль secret, получено: %+v", attempt)
	}
}

func TestDictionaryCancelled(t *testing.T) {
	c := New(2, 1000000, 1000000, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	check := func(ctx context.Context, password string) error {
		if calls.Add(1) == 5 {
			cancel()
		}
		return apperrors.WrongPassword("")
	}

	// Бесконечный по меркам теста словарь.
	words := make([]string, 10000)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26)) + time.Now().Format("150405")
	}
	attempt, err := c.Dictionary(ctx, check, strings.NewReader(strings.Join(words, "\n")), 0)
	if err != nil {
		t.Fatalf("отмена не должна быть ошибкой: %v", err)
	}
	if attempt.Outcome != model.OutcomeCancelled {
		t.Fatalf("ожидался исход cancelled, получен %s", attempt.Outcome)
	}
	if attempt.Attempts >= 10000 {
		t.Error("после отмены перебор должен остановиться досрочно")
	}
}

func TestBruteforceFound(t *testing.T) {
	c := New(4, 1000000, 1000, testLogger())

	attempt, err := c.Bruteforce(context.Background(), checkerFor("ba"), "ab", 3)
	if err != nil {
		t.Fatalf("перебор завершился ошибкой: %v", err)
	}
	if attempt.Outcome != model.OutcomeFound || attempt.Password != "ba" {
		t.Fatalf("ожидался пароль ba, получено: %+v", attempt)
	}
}

func TestBruteforceExhausted(t *testing.T) {
	c := New(2, 1000000, 1000, testLogger())

	attempt, err := c.Bruteforce(context.Background(), checkerFor("zzz"), "ab", 3)
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Outcome != model.OutcomeExhausted {
		t.Fatalf("ожидался исход exhausted, получен %s", attempt.Outcome)
	}
	// 2 + 4 + 8 кандидатов.
	if attempt.Attempts != 14 {
		t.Errorf("ожидалось 14 попыток, получено %d", attempt.Attempts)
	}
}

func TestBruteforceSpaceCeiling(t *testing.T) {
	c := New(2, 100, 1000, testLogger())

	// 26 + 26^2 + 26^3 > 100.
	_, err := c.Bruteforce(context.Background(), checkerFor("x"), "abcdefghijklmnopqrstuvwxyz", 3)
	if apperrors.CodeOf(err) != apperrors.CodeCrackPassword {
		t.Fatalf("превышение потолка: ожидался crack_password_error, получено %v", err)
	}

	// Переполнение int64 тоже отклоняется заранее.
	_, err = c.Bruteforce(context.Background(), checkerFor("x"), "abcdefghijklmnopqrstuvwxyz0123456789", 64)
	if apperrors.CodeOf(err) != apperrors.CodeCrackPassword {
		t.Fatalf("переполнение пространства: ожидался crack_password_error, получено %v", err)
	}
}

func TestBruteforceInvalidParams(t *testing.T) {
	c := New(2, 1000, 1000, testLogger())

	if _, err := c.Bruteforce(context.Background(), checkerFor("x"), "", 3); err == nil {
		t.Error("пустой алфавит должен быть ошибкой")
	}
	if _, err := c.Bruteforce(context.Background(), checkerFor("x"), "ab", 0); err == nil {
		t.Error("нулевая длина должна быть ошибкой")
	}
}

func TestCheckerErrorAborts(t *testing.T) {
	c := New(2, 1000000, 1000, testLogger())
	boom := apperrors.Storage("диск недоступен", errors.New("io error"))
	check := func(ctx context.Context, password string) error {
		return boom
	}

	_, err := c.Dictionary(context.Background(), check, strings.NewReader("a\nb\nc\n"), 0)
	if apperrors.CodeOf(err) != apperrors.CodeStorage {
		t.Fatalf("ошибка проверки должна прерывать поиск: %v", err)
	}
}

func TestSearchSpaceSize(t *testing.T) {
	got, err := searchSpaceSize(2, 3)
	if err != nil || got != 14 {
		t.Errorf("searchSpaceSize(2,3): ожидалось 14, получено %d (ошибка %v)", got, err)
	}
	if _, err := searchSpaceSize(36, 64); err == nil {
		t.Error("ожидалась ошибка переполнения")
	}
}
