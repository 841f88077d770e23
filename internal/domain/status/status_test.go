package status

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaturePredicates(t *testing.T) {
	assert.True(t, OK.IsOK())
	assert.True(t, OK.IsInfoOrWarning())
	assert.False(t, OK.IsError())

	assert.True(t, WarnAlready.IsInfoOrWarning())
	assert.False(t, WarnAlready.IsInfo())
	assert.False(t, WarnAlready.IsOK())

	assert.True(t, ErrParam.IsError())
	assert.False(t, ErrParam.IsFatal())

	assert.True(t, FatalIllegalAccess.IsError())
	assert.True(t, FatalIllegalAccess.IsFatal())
}

func TestToFatal(t *testing.T) {
	assert.Equal(t, FatalErr(ReasonCredentials), ErrCredentials.ToFatal())
	assert.Equal(t, WarnInUse, WarnInUse.ToFatal())
	assert.Equal(t, OK, OK.ToFatal())
}

func TestStringAndParse(t *testing.T) {
	tests := []Status{OK, WarnAlready, ErrNotFound, ErrWouldBlock, FatalIllegalAccess}

	for _, st := range tests {
		t.Run(st.String(), func(t *testing.T) {
			parsed, err := Parse(st.String())
			require.NoError(t, err)
			assert.Equal(t, st, parsed)
		})
	}

	assert.Equal(t, "ERR_NOT_SUPPORTED", ErrNotSupported.String())

	_, err := Parse("BOGUS")
	assert.Error(t, err)
	_, err = Parse("ERR_BOGUS")
	assert.Error(t, err)
}

func TestFrom(t *testing.T) {
	assert.Equal(t, OK, From(nil))
	assert.Equal(t, ErrTimeout, From(fmt.Errorf("wrapped: %w", ErrTimeout)))
	assert.Equal(t, ErrAborted, From(fmt.Errorf("plain")))
}
