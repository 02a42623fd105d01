package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/scheduler"
)

// QueueDefinition — очередь из файла определений.
type QueueDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Config      domain.QueueConfig `json:"config"`
	Schedules   []domain.Schedule  `json:"schedules,omitempty"`
}

// Request возвращает запрос на создание очереди.
func (d QueueDefinition) Request() engine.CreateQueueRequest {
	return engine.CreateQueueRequest{
		Name:        d.Name,
		Description: d.Description,
		Config:      d.Config,
	}
}

// queuesFile — формат файла определений.
//
//	{
//	  "queues": [
//	    {
//	      "name": "emails",
//	      "config": {"concurrency": 2, "default_max_retries": 5},
//	      "schedules": [{"cron": "*/5 * * * *", "job_type": "echo"}]
//	    }
//	  ]
//	}
type queuesFile struct {
	Queues []QueueDefinition `json:"queues"`
}

// LoadQueueDefinitions читает и проверяет файл определений очередей.
// Очередь расписания по умолчанию — очередь, в которой оно объявлено.
func LoadQueueDefinitions(path string) ([]QueueDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queues file: %w", err)
	}
	return ParseQueueDefinitions(data)
}

// ParseQueueDefinitions разбирает определения очередей из JSON.
func ParseQueueDefinitions(data []byte) ([]QueueDefinition, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var file queuesFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse queues file: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(file.Queues))
	for i := range file.Queues {
		def := &file.Queues[i]

		if _, err := def.Request().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("queues[%d]: %w", i, err))
			continue
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("queues[%d]: duplicate queue name %q", i, def.Name))
			continue
		}
		seen[def.Name] = true

		for j := range def.Schedules {
			sched := &def.Schedules[j]
			if sched.Queue == "" {
				sched.Queue = def.Name
			}
			if sched.Name == "" {
				sched.Name = fmt.Sprintf("%s#%d", def.Name, j)
			}
			if err := scheduler.Validate(sched); err != nil {
				errs = append(errs, fmt.Errorf("queues[%d].schedules[%d]: %w", i, j, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return file.Queues, nil
}
