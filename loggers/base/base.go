// Package base defines the contract every experiment logger backend implements,
// and a Collection that fans calls out to several backends at once.
package base

import (
	"context"
	"errors"
	"strings"
)

// Status is the final state of a run, reported through Logger.Finalize.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Logger records one experiment run.
//
// Backends acquire files and connections lazily: construction never fails for I/O
// reasons, the first method that needs a resource opens it and returns its error.
type Logger interface {
	// Name is the experiment name.
	Name() string
	// Version identifies the run within the experiment.
	Version() string

	LogHyperparams(ctx context.Context, params map[string]any) error
	LogMetrics(ctx context.Context, metrics map[string]float64, step int) error

	// Save flushes buffered records.
	Save(ctx context.Context) error
	// Finalize flushes and closes the run. It is called once, after the last Save.
	Finalize(ctx context.Context, status Status) error
}

// LogDirer is implemented by backends that own a run directory on disk.
type LogDirer interface {
	LogDir() string
}

// Collection is a Logger writing to every member in order.
// Every member is called even when an earlier one fails; errors are joined.
type Collection []Logger

var _ Logger = Collection{}
var _ LogDirer = Collection{}

func (c Collection) Name() string {
	names := make([]string, len(c))
	for i, l := range c {
		names[i] = l.Name()
	}
	return strings.Join(names, "_")
}

func (c Collection) Version() string {
	versions := make([]string, len(c))
	for i, l := range c {
		versions[i] = l.Version()
	}
	return strings.Join(versions, "_")
}

func (c Collection) LogHyperparams(ctx context.Context, params map[string]any) error {
	return c.each(func(l Logger) error { return l.LogHyperparams(ctx, params) })
}

func (c Collection) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	return c.each(func(l Logger) error { return l.LogMetrics(ctx, metrics, step) })
}

func (c Collection) Save(ctx context.Context) error {
	return c.each(func(l Logger) error { return l.Save(ctx) })
}

func (c Collection) Finalize(ctx context.Context, status Status) error {
	return c.each(func(l Logger) error { return l.Finalize(ctx, status) })
}

// LogDir is the directory of the first member that has one, or "".
func (c Collection) LogDir() string {
	for _, l := range c {
		if d, ok := l.(LogDirer); ok {
			if dir := d.LogDir(); dir != "" {
				return dir
			}
		}
	}
	return ""
}

func (c Collection) each(f func(Logger) error) error {
	var errs []error
	for _, l := range c {
		if err := f(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
