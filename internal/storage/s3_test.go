package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/storage"
)

func TestSplitS3Location(t *testing.T) {
	bucket, key, err := storage.SplitS3Location("s3://my-bucket/warehouse/ns/table-1")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "warehouse/ns/table-1", key)

	bucket, key, err = storage.SplitS3Location("s3://only-bucket")
	require.NoError(t, err)
	assert.Equal(t, "only-bucket", bucket)
	assert.Empty(t, key)

	_, _, err = storage.SplitS3Location("gs://bucket/key")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrTypeBadRequest))

	_, _, err = storage.SplitS3Location("s3:///key")
	require.Error(t, err)
}

func TestParseS3Credential(t *testing.T) {
	cred, err := storage.ParseS3Credential([]byte(`{"access-key":"AK","secret-key":"SK"}`))
	require.NoError(t, err)
	assert.Equal(t, "AK", cred.AccessKey)
	assert.Equal(t, "SK", cred.SecretKey)

	cred, err = storage.ParseS3Credential(nil)
	require.NoError(t, err)
	assert.Empty(t, cred.AccessKey)

	_, err = storage.ParseS3Credential([]byte("not json"))
	require.Error(t, err)
}

func TestValidateSkipsNonS3Profiles(t *testing.T) {
	s3 := storage.NewS3()
	profile := domain.StorageProfile{
		Type:  domain.StorageTypeLocal,
		Local: &domain.LocalStorageProfile{Path: "/tmp/warehouse"},
	}
	require.NoError(t, s3.Validate(context.Background(), profile, nil))
	require.NoError(t, s3.RemovePrefix(context.Background(), profile, nil, "file:///tmp/warehouse/t"))
}
