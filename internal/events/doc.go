// Package events содержит шину событий жизненного цикла jobs и очередей.
//
// Подписчики получают события через буферизированный канал.
// Медленный подписчик не тормозит движок: переполнение буфера
// приводит к потере событий и последующему stream.gap.
package events
