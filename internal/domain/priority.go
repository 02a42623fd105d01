package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority — приоритет job. Больше значение — раньше выполняется.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String возвращает имя приоритета.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// IsValid проверяет, что приоритет в допустимом диапазоне.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority парсит имя приоритета (без учёта регистра).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalJSON сериализует приоритет строкой.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON принимает строку ("high") или число (2).
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParsePriority(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority must be a string or a number: %w", err)
	}
	if !Priority(n).IsValid() {
		return fmt.Errorf("priority %d out of range", n)
	}
	*p = Priority(n)
	return nil
}
