// Package handler содержит реестр handler'ов jobs и встроенные handler'ы.
//
// Handler — код, который выполняет job конкретного типа. Движок
// находит его по job.Type через Registry.Resolve и вызывает в отдельной
// горутине под таймаутом.
//
//	registry := handler.Defaults()
//	registry.RegisterFunc("resize-image", func(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
//	    ...
//	})
//
// Встроенные handler'ы:
//   - echo  — возвращает payload
//   - sleep — ждёт {"seconds": n}, прерывается отменой
//   - fail  — падает при {"fail": true}
//   - http  — HTTP-запрос по описанию из payload
//
// Контракт: handler может быть вызван несколько раз для одного job
// и обязан быть идемпотентным. Ошибка handler'а — это данные (FAILED + текст),
// она не роняет процесс.
package handler
