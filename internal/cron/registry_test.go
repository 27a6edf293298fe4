package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob struct {
	name string
	tag  int
}

func (j *namedJob) Name() string              { return j.name }
func (j *namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	sweeper := &namedJob{name: "reservation-sweeper"}
	retention := &namedJob{name: "outbox-retention"}
	registry := NewRegistry(sweeper, nil, retention)

	assert.Equal(t, []string{"reservation-sweeper", "outbox-retention"}, registry.Names())

	jobs := registry.Jobs()
	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0], "callers must get a copy")
}

func TestRegistryReplacesDuplicateNameInPlace(t *testing.T) {
	var registry Registry
	registry.Register(&namedJob{name: "a", tag: 1})
	registry.Register(&namedJob{name: "b"})
	registry.Register(&namedJob{name: "a", tag: 2})

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 2, jobs[0].(*namedJob).tag)
	assert.Equal(t, "b", jobs[1].Name())
}
