package service

import (
	"context"
	"sync"
)

// StaticDirectory is an in-memory Directory for development mode and tests.
type StaticDirectory struct {
	mu          sync.RWMutex
	instructors map[string]struct{}
	locations   map[string]struct{}
}

// NewStaticDirectory seeds the directory with known ids.
func NewStaticDirectory(instructors, locations []string) *StaticDirectory {
	d := &StaticDirectory{instructors: map[string]struct{}{}, locations: map[string]struct{}{}}
	for _, id := range instructors {
		d.instructors[id] = struct{}{}
	}
	for _, id := range locations {
		d.locations[id] = struct{}{}
	}
	return d
}

// InstructorExists implements Directory.
func (d *StaticDirectory) InstructorExists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.instructors[id]
	return ok, nil
}

// LocationExists implements Directory.
func (d *StaticDirectory) LocationExists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.locations[id]
	return ok, nil
}
