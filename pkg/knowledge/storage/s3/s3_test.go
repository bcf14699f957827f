package s3

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

var _ knowledge.BlobStore = (*Backend)(nil)

func TestNew_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultsAndPrefix", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "knowledge",
			Prefix:          "/packages/",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "http://localhost:9000",
			UsePathStyle:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, "packages/api/x.zip", backend.objectKey("api/x.zip"))
	})
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(errors.New("boom")))

	assert.True(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "PreconditionFailed"}))
	assert.False(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "AccessDenied"}))
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "staging/api/my%20pkg.zip", escapeKey("staging/api/my pkg.zip"))
	assert.Equal(t, "application/zip", contentType("a/b.zip"))
	assert.Equal(t, "text/plain", contentType(".index/sha256/abc"))
}
