package backend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/beamlab/internal/backend"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("singular matrix")
	err := backend.NewError(backend.KindLocalSolveFailure, "local solve failed", cause)

	assert.Equal(t, "local solve failed: singular matrix", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestKindOfWrapped(t *testing.T) {
	inner := backend.Errorf(backend.KindSubmission, "cloud submission rejected: %s", "overloaded")
	wrapped := fmt.Errorf("run 42: %w", inner)

	assert.Equal(t, backend.KindSubmission, backend.KindOf(wrapped))
	assert.True(t, backend.IsKind(wrapped, backend.KindSubmission))
	assert.Equal(t, backend.KindUnknown, backend.KindOf(errors.New("plain")))
	assert.Equal(t, backend.KindUnknown, backend.KindOf(nil))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := backend.FromContext(ctx)
	require.NotNil(t, err)
	assert.Equal(t, backend.KindUserCancelled, err.Kind)

	dctx, dcancel := context.WithTimeout(context.Background(), 0)
	defer dcancel()
	<-dctx.Done()
	assert.Equal(t, backend.KindTimeout, backend.FromContext(dctx).Kind)
}
