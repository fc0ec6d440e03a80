package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/internal/app/broker"
)

func TestRegisterAll(t *testing.T) {
	reg := broker.NewRegistry()
	RegisterAll(reg)
	require.Equal(t, []string{"dhan", "motilal", "paper"}, reg.Registered())

	RegisterAll(nil)
}
