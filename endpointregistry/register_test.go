package endpointregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlink/endpoint"
	"github.com/c360/semlink/errors"
)

func TestRegisterAll(t *testing.T) {
	r := endpoint.NewRegistry()
	require.NoError(t, RegisterAll(r))
	assert.Equal(t, []string{"heartbeat", "logsink", "natsbridge"}, r.ListFactories())

	for _, name := range r.ListFactories() {
		info, ok := r.Factory(name)
		require.True(t, ok)
		assert.NotEmpty(t, info.Schema, name)
		assert.NotEmpty(t, info.Description, name)
	}

	err := RegisterAll(r)
	require.Error(t, err, "factories register once")
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterAll_NilRegistry(t *testing.T) {
	err := RegisterAll(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
