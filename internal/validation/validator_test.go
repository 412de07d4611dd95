package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/config"
	kisserrors "github.com/devrev/kissvdb/internal/errors"
)

func testValidator() *Validator {
	return New(config.Default())
}

func TestKeyRejectsEmpty(t *testing.T) {
	v := testValidator()
	err := v.Key("")
	require.Error(t, err)
	require.Equal(t, kisserrors.CodeInvalidArgument, kisserrors.GetCode(err))
}

func TestKeyRejectsOversize(t *testing.T) {
	v := testValidator()
	big := make([]byte, v.maxKeyLength+1)
	err := v.Key(string(big))
	require.Error(t, err)
}

func TestKeyRejectsControlCharacters(t *testing.T) {
	v := testValidator()
	err := v.Key("bad\x00key")
	require.Error(t, err)
}

func TestKeyPrefixAllowsEmpty(t *testing.T) {
	v := testValidator()
	require.NoError(t, v.KeyPrefix(""))
}

func TestValueRejectsOversize(t *testing.T) {
	v := testValidator()
	v.maxJSONBytes = 4
	err := v.Value([]byte("12345"))
	require.Error(t, err)
}

func TestValueAllowsNil(t *testing.T) {
	v := testValidator()
	require.NoError(t, v.Value(nil))
}

func TestBatchSizeRejectsEmptyAndOversize(t *testing.T) {
	v := testValidator()
	require.Error(t, v.BatchSize(0))
	require.Error(t, v.BatchSize(v.maxBatch+1))
	require.NoError(t, v.BatchSize(1))
}

func TestCollectionNameRejectsPathSeparators(t *testing.T) {
	v := testValidator()
	err := v.CollectionName("a/b")
	require.Error(t, err)
}

func TestDimRejectsNonPositiveAndOversize(t *testing.T) {
	v := testValidator()
	require.Error(t, v.Dim(0))
	require.Error(t, v.Dim(v.maxDim+1))
	require.NoError(t, v.Dim(4))
}

func TestVectorLengthMismatch(t *testing.T) {
	v := testValidator()
	err := v.VectorLength(3, 4)
	require.Error(t, err)
}

func TestKValidation(t *testing.T) {
	v := testValidator()
	require.Error(t, v.K(0))
	require.Error(t, v.K(v.maxK+1))
	require.NoError(t, v.K(10))
}
