package models

import "time"

// TaskTemplate is a reusable default configuration used to instantiate
// new tasks of a given type.
type TaskTemplate struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Description    string     `json:"description,omitempty" db:"description"`
	Type           TaskType   `json:"type" db:"type"`
	Frequency      string     `json:"frequency,omitempty" db:"frequency"`
	Priority       int        `json:"priority" db:"priority"`
	Defaults       JSONMap    `json:"defaults" db:"defaults"`
	RequiredFields StringList `json:"required_fields" db:"required_fields"`
	OptionalFields StringList `json:"optional_fields" db:"optional_fields"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
