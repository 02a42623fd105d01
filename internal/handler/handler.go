package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Handler выполняет job конкретного типа.
//
// job.Payload — сырой JSON, формат определяет сам handler.
// ctx отменяется по таймауту job или при запросе отмены;
// handler обязан проверять ctx в точках, где можно остановиться.
//
// Handler может быть вызван повторно для того же job (retry, рестарт
// процесса), поэтому должен быть идемпотентным.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

// HandlerFunc — адаптер обычной функции к Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) (*domain.JobResult, error)

// Handle вызывает f(ctx, job).
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	return f(ctx, job)
}

// Registry — реестр handler'ов по имени типа job.
//
// Создаётся один раз при старте и передаётся по ссылке во все actors.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Defaults создаёт реестр со встроенными handler'ами: echo, sleep, fail, http.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register(TypeEcho, &EchoHandler{})
	r.Register(TypeSleep, &SleepHandler{})
	r.Register(TypeFail, &FailHandler{})
	r.Register(TypeHTTP, &HTTPHandler{})
	return r
}

// Register связывает имя типа с handler'ом.
// Повторная регистрация того же имени заменяет handler.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// RegisterFunc регистрирует функцию как handler.
func (r *Registry) RegisterFunc(jobType string, fn func(ctx context.Context, job *domain.Job) (*domain.JobResult, error)) {
	r.Register(jobType, HandlerFunc(fn))
}

// Resolve возвращает handler для типа job.
// Возвращает ErrHandlerNotFound, если тип не зарегистрирован.
func (r *Registry) Resolve(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, jobType)
	}
	return h, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[jobType]
	return ok
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
