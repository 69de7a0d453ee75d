// Пакет cracker — подбор пароля архива.
//
// Две стратегии: перебор по словарю и полный перебор по алфавиту
// до заданной длины. Кандидаты раздаются фиксированному пулу
// воркеров через канал; первый найденный пароль кооперативно
// останавливает остальных. Исход cancelled отличается от exhausted:
// вызывающая сторона должна знать, пройдено ли пространство целиком.
package cracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// Prometheus метрики подбора пароля
var (
	// crackRunsTotal — количество запусков подбора по исходу.
	crackRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_crack_runs_total",
		Help: "Общее количество запусков подбора пароля по стратегии и исходу",
	}, []string{"strategy", "outcome"})

	// crackCandidatesTotal — количество проверенных кандидатов.
	crackCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_crack_candidates_total",
		Help: "Общее количество проверенных кандидатов пароля",
	})

	// crackDurationSeconds — длительность запусков подбора.
	crackDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ae_crack_duration_seconds",
		Help:    "Длительность подбора пароля в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	})
)

// CheckFunc проверяет один кандидат: nil — пароль подошёл,
// wrong_password — не подошёл, любая другая ошибка прерывает поиск.
type CheckFunc func(ctx context.Context, password string) error

// searchState — состояние одного запуска подбора.
type searchState string

const (
	stateIdle      searchState = "idle"
	stateSearching searchState = "searching"
	stateFound     searchState = "found"
	stateExhausted searchState = "exhausted"
	stateCancelled searchState = "cancelled"
)

// validSearchTransitions — матрица допустимых переходов состояния поиска.
var validSearchTransitions = map[searchState]map[searchState]bool{
	stateIdle:      {stateSearching: true},
	stateSearching: {stateFound: true, stateExhausted: true, stateCancelled: true},
	stateFound:     {},
	stateExhausted: {},
	stateCancelled: {},
}

// Cracker — подборщик паролей с фиксированным пулом воркеров.
type Cracker struct {
	// workers — размер пула воркеров
	workers int
	// maxSpace — потолок размера пространства полного перебора
	maxSpace int64
	// maxWordlist — предел количества слов словаря
	maxWordlist int64
	logger      *slog.Logger
}

// New создаёт подборщик паролей.
func New(workers int, maxSpace, maxWordlist int64, logger *slog.Logger) *Cracker {
	if workers < 1 {
		workers = 1
	}
	return &Cracker{
		workers:     workers,
		maxSpace:    maxSpace,
		maxWordlist: maxWordlist,
		logger:      logger.With(slog.String("component", "cracker")),
	}
}

// candidate — один кандидат пароля с порядковым индексом.
type candidate struct {
	index    int64
	password string
}

// Dictionary перебирает пароли из словаря. checkpoint — количество
// слов, уже проверенных предыдущим прерванным запуском; они
// пропускаются. В CrackAttempt.Checkpoint возвращается позиция
// возобновления для следующего запуска.
func (c *Cracker) Dictionary(ctx context.Context, check CheckFunc, wordlist io.Reader, checkpoint int64) (*model.CrackAttempt, error) {
	if checkpoint < 0 {
		checkpoint = 0
	}

	gen := func(ctx context.Context, out chan<- candidate) error {
		scanner := bufio.NewScanner(wordlist)
		// Словари содержат длинные строки; стандартного буфера мало.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var index int64
		for scanner.Scan() {
			word := scanner.Text()
			if word == "" {
				continue
			}
			if index >= c.maxWordlist {
				return apperrors.CrackPassword(fmt.Sprintf("словарь превышает предел %d слов", c.maxWordlist))
			}
			idx := index
			index++
			if idx < checkpoint {
				continue
			}
			select {
			case out <- candidate{index: idx, password: word}:
			case <-ctx.Done():
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return apperrors.Storage("ошибка чтения словаря", err)
		}
		return nil
	}

	return c.run(ctx, model.StrategyDictionary, check, gen)
}

// Bruteforce перебирает все строки над алфавитом длиной от 1 до
// maxLength в лексикографическом порядке по возрастанию длины.
// Размер пространства вычисляется заранее; превышение потолка —
// ошибка crack_password_error без единой проверки.
func (c *Cracker) Bruteforce(ctx context.Context, check CheckFunc, charset string, maxLength int) (*model.CrackAttempt, error) {
	if charset == "" {
		return nil, apperrors.CrackPassword("пустой алфавит перебора")
	}
	if maxLength < 1 {
		return nil, apperrors.CrackPassword(fmt.Sprintf("недопустимая максимальная длина: %d", maxLength))
	}

	space, err := searchSpaceSize(int64(len([]rune(charset))), maxLength)
	if err != nil || space > c.maxSpace {
		return nil, apperrors.CrackPassword(fmt.Sprintf(
			"пространство перебора превышает потолок %d кандидатов", c.maxSpace))
	}

	alphabet := []rune(charset)
	gen := func(ctx context.Context, out chan<- candidate) error {
		var index int64
		buf := make([]int, maxLength)
		for length := 1; length <= maxLength; length++ {
			for i := range buf[:length] {
				buf[i] = 0
			}
			for {
				word := make([]rune, length)
				for i, d := range buf[:length] {
					word[i] = alphabet[d]
				}
				select {
				case out <- candidate{index: index, password: string(word)}:
					index++
				case <-ctx.Done():
					return nil
				}
				// Одометр: инкремент с переносом от младшего разряда.
				pos := length - 1
				for pos >= 0 {
					buf[pos]++
					if buf[pos] < len(alphabet) {
						break
					}
					buf[pos] = 0
					pos--
				}
				if pos < 0 {
					break
				}
			}
		}
		return nil
	}

	return c.run(ctx, model.StrategyBruteforce, check, gen)
}

// searchSpaceSize вычисляет sum(c^i, i=1..maxLength) с защитой от
// переполнения int64.
func searchSpaceSize(alphabetSize int64, maxLength int) (int64, error) {
	const ceiling = int64(1) << 62
	var total, power int64 = 0, 1
	for i := 0; i < maxLength; i++ {
		if power > ceiling/alphabetSize {
			return 0, errors.New("переполнение размера пространства")
		}
		power *= alphabetSize
		if total > ceiling-power {
			return 0, errors.New("переполнение размера пространства")
		}
		total += power
	}
	return total, nil
}

// run — общий цикл подбора: генератор кандидатов, пул воркеров,
// кооперативная остановка по первому совпадению.
func (c *Cracker) run(ctx context.Context, strategy model.CrackStrategy, check CheckFunc, gen func(context.Context, chan<- candidate) error) (*model.CrackAttempt, error) {
	start := time.Now()
	state := stateIdle
	advance := func(next searchState) {
		if !validSearchTransitions[state][next] {
			// Недопустимый переход — ошибка программирования, а не данных.
			panic(fmt.Sprintf("недопустимый переход состояния поиска: %s → %s", state, next))
		}
		state = next
	}
	advance(stateSearching)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidates := make(chan candidate, c.workers*2)
	genErr := make(chan error, 1)
	go func() {
		defer close(candidates)
		genErr <- gen(runCtx, candidates)
	}()

	var (
		attempts   atomic.Int64
		maxChecked atomic.Int64
		mu         sync.Mutex
		foundWord  string
		found      bool
		abortErr   error
	)
	maxChecked.Store(-1)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range candidates {
				// Кооперативная остановка между проверками.
				if runCtx.Err() != nil {
					return
				}
				attempts.Add(1)
				err := check(runCtx, cand.password)
				// Отметка прогресса для checkpoint.
				for {
					prev := maxChecked.Load()
					if cand.index <= prev || maxChecked.CompareAndSwap(prev, cand.index) {
						break
					}
				}
				switch {
				case err == nil:
					mu.Lock()
					if !found {
						found = true
						foundWord = cand.password
					}
					mu.Unlock()
					cancel()
					return
				case apperrors.CodeOf(err) == apperrors.CodeWrongPassword:
					continue
				default:
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					mu.Lock()
					if abortErr == nil {
						abortErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()
	genFailure := <-genErr

	// Найденный пароль важнее позднего сбоя генератора или воркера:
	// успех уже достигнут, аварийное завершение его не отменяет.
	if !found {
		if genFailure != nil {
			crackRunsTotal.WithLabelValues(string(strategy), "error").Inc()
			return nil, genFailure
		}
		if abortErr != nil {
			crackRunsTotal.WithLabelValues(string(strategy), "error").Inc()
			return nil, abortErr
		}
	}

	attempt := &model.CrackAttempt{
		Strategy:   strategy,
		Attempts:   attempts.Load(),
		Checkpoint: maxChecked.Load() + 1,
		Duration:   time.Since(start),
	}
	switch {
	case found:
		advance(stateFound)
		attempt.Outcome = model.OutcomeFound
		attempt.Password = foundWord
	case ctx.Err() != nil:
		advance(stateCancelled)
		attempt.Outcome = model.OutcomeCancelled
	default:
		advance(stateExhausted)
		attempt.Outcome = model.OutcomeExhausted
	}

	crackRunsTotal.WithLabelValues(string(strategy), string(attempt.Outcome)).Inc()
	crackCandidatesTotal.Add(float64(attempt.Attempts))
	crackDurationSeconds.Observe(attempt.Duration.Seconds())

	c.logger.Info("Подбор пароля завершён",
		slog.String("strategy", string(strategy)),
		slog.String("outcome", string(attempt.Outcome)),
		slog.Int64("attempts", attempt.Attempts),
		slog.Duration("duration", attempt.Duration),
	)

	return attempt, nil
}
