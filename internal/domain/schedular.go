package domain

import "context"

// Task is a unit of periodic work run by a Schedular.
type Task func(ctx context.Context) error

type Schedular interface {
	Start(ctx context.Context) error

	AddTask(name, spec string, task Task) error
	RemoveTask(name string) error
}
