package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	require.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	require.Equal(t, "https://r2.example.com", normaliseEndpoint("r2.example.com", true))
}

func TestClientConfigS3Options(t *testing.T) {
	var o s3.Options
	ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true}.s3Options(&o)
	require.Equal(t, "http://minio:9000", aws.ToString(o.BaseEndpoint))
	require.True(t, o.UsePathStyle)

	o = s3.Options{}
	ClientConfig{}.s3Options(&o)
	require.Nil(t, o.BaseEndpoint, "AWS S3 uses the default resolver")
	require.False(t, o.UsePathStyle)
}

func TestClientConfigValidate(t *testing.T) {
	err := ClientConfig{}.validate()
	require.ErrorContains(t, err, "bucket is required")
	require.ErrorContains(t, err, "region is required")
	require.NoError(t, ClientConfig{Bucket: "ledger", Region: "us-east-1"}.validate())
}

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(&types.NoSuchKey{}))
	require.True(t, isNotFound(fmt.Errorf("head: %w", &types.NotFound{})))
	require.True(t, isNotFound(statusErr(404)))
	require.False(t, isNotFound(statusErr(403)))
	require.False(t, isNotFound(errors.New("dial tcp")))
}
