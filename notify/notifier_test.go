package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Publish(context.Background(), EventOpportunity, "a"))
	require.NoError(t, m.Publish(context.Background(), EventExecution, "b"))
	require.NoError(t, m.Publish(context.Background(), EventOpportunity, "c"))

	assert.Len(t, m.Messages(""), 3)
	opps := m.Messages(EventOpportunity)
	require.Len(t, opps, 2)
	assert.Equal(t, "c", opps[1].Payload)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), EventExecution, nil))
}
