package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageProfile_JSONTaggedUnion(t *testing.T) {
	p := domain.StorageProfile{
		Type: domain.StorageTypeS3,
		S3: &domain.S3StorageProfile{
			Bucket:    "lake",
			KeyPrefix: "warehouses/w1",
			Region:    "eu-central-1",
			Endpoint:  "http://minio:9000",
			PathStyle: true,
		},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back domain.StorageProfile
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, domain.StorageTypeS3, back.Type)
	require.NotNil(t, back.S3)
	assert.Equal(t, "lake", back.S3.Bucket)
	assert.Equal(t, "s3://lake/warehouses/w1", back.BaseLocation())
}

func TestStorageProfile_UnknownType(t *testing.T) {
	var p domain.StorageProfile
	err := json.Unmarshal([]byte(`{"type":"ftp","host":"x"}`), &p)
	assert.Error(t, err)
}

func TestStorageProfile_Validate(t *testing.T) {
	assert.Error(t, domain.StorageProfile{Type: domain.StorageTypeS3, S3: &domain.S3StorageProfile{}}.Validate())
	assert.Error(t, domain.StorageProfile{Type: domain.StorageTypeAzure, Azure: &domain.AzureStorageProfile{AccountName: "a"}}.Validate())
	assert.NoError(t, domain.StorageProfile{Type: domain.StorageTypeLocal, Local: &domain.LocalStorageProfile{Path: "/tmp/lake"}}.Validate())
}
