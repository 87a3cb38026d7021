package summary

import (
	"errors"
	"fmt"
	"sync"
)

// Resource is a transient artifact backing a rendered summary, such as a
// temporary file handed to a browser for printing.
type Resource interface {
	// Location is where the artifact can be opened, e.g. a file path.
	Location() string
	Release() error
}

// Sink materializes summary HTML as a Resource.
type Sink interface {
	Acquire(key, html string) (Resource, error)
}

// NopSink keeps summaries in memory only.
type NopSink struct{}

func (NopSink) Acquire(string, string) (Resource, error) { return nopResource{}, nil }

type nopResource struct{}

func (nopResource) Location() string { return "" }
func (nopResource) Release() error   { return nil }

// Live tracks at most one live Resource per key. Installing a new resource
// releases the one it replaces.
type Live struct {
	sink Sink

	mu        sync.Mutex
	resources map[string]Resource
}

func NewLive(sink Sink) *Live {
	if sink == nil {
		sink = NopSink{}
	}
	return &Live{sink: sink, resources: make(map[string]Resource)}
}

// Acquire materializes html without installing it. The caller either
// installs the resource or releases it.
func (l *Live) Acquire(key, html string) (Resource, error) {
	res, err := l.sink.Acquire(key, html)
	if err != nil {
		return nil, fmt.Errorf("summary: acquire resource: %w", err)
	}
	return res, nil
}

// Install makes res the live resource for key and releases the one it
// replaces.
func (l *Live) Install(key string, res Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev := l.resources[key]; prev != nil && prev != res {
		// best effort
		_ = prev.Release()
	}
	l.resources[key] = res
}

// Replace acquires a resource for html, then installs it. When acquisition
// fails the previous resource stays installed.
func (l *Live) Replace(key, html string) (Resource, error) {
	res, err := l.Acquire(key, html)
	if err != nil {
		return nil, err
	}
	l.Install(key, res)
	return res, nil
}

// Get returns the live resource for key.
func (l *Live) Get(key string) (Resource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.resources[key]
	return res, ok
}

// Close releases every live resource.
func (l *Live) Close() error {
	l.mu.Lock()
	resources := l.resources
	l.resources = make(map[string]Resource)
	l.mu.Unlock()

	var errs []error
	for _, res := range resources {
		if err := res.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
