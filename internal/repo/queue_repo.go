package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// QueueRepo — репозиторий для работы с очередями.
type QueueRepo struct {
	pool *pgxpool.Pool
}

// NewQueueRepo создаёт новый QueueRepo.
func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

const queueColumns = `id, name, description, state, config, created_at, updated_at`

// Create создаёт новую очередь.
func (r *QueueRepo) Create(ctx context.Context, queue *domain.Queue) error {
	configJSON, err := json.Marshal(queue.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO queues (id, name, description, state, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		queue.ID,
		queue.Name,
		queue.Description,
		string(queue.State),
		configJSON,
		queue.CreatedAt,
		queue.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: queue %q", ErrAlreadyExists, queue.Name)
	}
	if err != nil {
		return fmt.Errorf("insert queue: %w", err)
	}
	return nil
}

// GetByID возвращает очередь по ID.
func (r *QueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE id = $1`
	return scanQueue(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает очередь по имени.
func (r *QueueRepo) GetByName(ctx context.Context, name string) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE name = $1`
	return scanQueue(r.pool.QueryRow(ctx, query, name))
}

// Update обновляет описание, состояние и конфигурацию очереди.
func (r *QueueRepo) Update(ctx context.Context, queue *domain.Queue) error {
	configJSON, err := json.Marshal(queue.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		UPDATE queues
		SET description = $2, state = $3, config = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		queue.ID,
		queue.Description,
		string(queue.State),
		configJSON,
		queue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет очередь. Jobs удаляются по ON DELETE CASCADE.
func (r *QueueRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM queues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает все очереди.
func (r *QueueRepo) List(ctx context.Context) ([]domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []domain.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, *queue)
	}
	return queues, rows.Err()
}

// scanQueue сканирует одну строку в Queue. pgx.Rows тоже реализует pgx.Row.
func scanQueue(row pgx.Row) (*domain.Queue, error) {
	var queue domain.Queue
	var state string
	var configJSON []byte

	err := row.Scan(
		&queue.ID,
		&queue.Name,
		&queue.Description,
		&state,
		&configJSON,
		&queue.CreatedAt,
		&queue.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}

	queue.State = domain.QueueState(state)
	if err := json.Unmarshal(configJSON, &queue.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &queue, nil
}
