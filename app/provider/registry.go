package provider

import (
	"errors"
	"sort"
)

var ErrProviderNotSupported = errors.New("provider is not supported")

type Registry struct {
	executors map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	items := make(map[string]Executor, len(executors))
	for _, e := range executors {
		items[e.Code()] = e
	}
	return &Registry{executors: items}
}

func (r *Registry) Get(code string) (Executor, error) {
	executor, ok := r.executors[code]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return executor, nil
}

func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.executors))
	for code := range r.executors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
