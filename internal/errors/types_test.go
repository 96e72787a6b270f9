package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineError_Error(t *testing.T) {
	err := Validation("amount below minimum")
	assert.Equal(t, "validation: amount below minimum", err.Error())

	wrapped := Wrap(fmt.Errorf("connection refused"), ErrorTypeExternal, "redis unavailable")
	assert.Equal(t, "external: redis unavailable (caused by: connection refused)", wrapped.Error())
}

func TestIsType_FollowsWrapChain(t *testing.T) {
	base := RateUnavailable("USD", "MYR")
	err := fmt.Errorf("fx_converter: %w", base)

	assert.True(t, IsType(err, ErrorTypeRateUnavailable))
	assert.False(t, IsType(err, ErrorTypeValidation))
	assert.Equal(t, "USD", base.Context["from"])

	_, ok := TypeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}
