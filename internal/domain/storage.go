package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StorageType discriminates the storage profile union.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeGCS   StorageType = "gcs"
	StorageTypeAzure StorageType = "adls"
	StorageTypeLocal StorageType = "local"
)

// StorageProfile is the tagged union of supported object store profiles.
// Exactly one of the variant pointers is non-nil, selected by Type.
type StorageProfile struct {
	Type  StorageType          `json:"type"`
	S3    *S3StorageProfile    `json:"-"`
	GCS   *GCSStorageProfile   `json:"-"`
	Azure *AzureStorageProfile `json:"-"`
	Local *LocalStorageProfile `json:"-"`
}

// S3StorageProfile configures an S3-compatible object store.
type S3StorageProfile struct {
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key-prefix,omitempty"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"path-style-access,omitempty"`
}

// GCSStorageProfile configures a Google Cloud Storage bucket.
type GCSStorageProfile struct {
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key-prefix,omitempty"`
}

// AzureStorageProfile configures an ADLS Gen2 filesystem.
type AzureStorageProfile struct {
	AccountName string `json:"account-name"`
	Filesystem  string `json:"filesystem"`
	KeyPrefix   string `json:"key-prefix,omitempty"`
}

// LocalStorageProfile is a filesystem profile for development and tests.
type LocalStorageProfile struct {
	Path string `json:"path"`
}

// BaseLocation returns the root URI under which the warehouse lays out
// tabular data, without a trailing slash.
func (p StorageProfile) BaseLocation() string {
	switch p.Type {
	case StorageTypeS3:
		return strings.TrimSuffix("s3://"+p.S3.Bucket+"/"+p.S3.KeyPrefix, "/")
	case StorageTypeGCS:
		return strings.TrimSuffix("gs://"+p.GCS.Bucket+"/"+p.GCS.KeyPrefix, "/")
	case StorageTypeAzure:
		return strings.TrimSuffix(
			fmt.Sprintf("abfss://%s@%s.dfs.core.windows.net/%s", p.Azure.Filesystem, p.Azure.AccountName, p.Azure.KeyPrefix), "/")
	case StorageTypeLocal:
		return "file://" + strings.TrimSuffix(p.Local.Path, "/")
	}
	return ""
}

// MarshalJSON flattens the active variant next to the type tag, matching the
// wire format used by the management API.
func (p StorageProfile) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case StorageTypeS3:
		return marshalTagged(p.Type, p.S3)
	case StorageTypeGCS:
		return marshalTagged(p.Type, p.GCS)
	case StorageTypeAzure:
		return marshalTagged(p.Type, p.Azure)
	case StorageTypeLocal:
		return marshalTagged(p.Type, p.Local)
	}
	return nil, fmt.Errorf("unknown storage type %q", p.Type)
}

func marshalTagged(typ StorageType, variant any) ([]byte, error) {
	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(typ)
	return json.Marshal(fields)
}

// UnmarshalJSON selects the variant from the type tag.
func (p *StorageProfile) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type StorageType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	p.Type = tag.Type
	switch tag.Type {
	case StorageTypeS3:
		p.S3 = &S3StorageProfile{}
		return json.Unmarshal(data, p.S3)
	case StorageTypeGCS:
		p.GCS = &GCSStorageProfile{}
		return json.Unmarshal(data, p.GCS)
	case StorageTypeAzure:
		p.Azure = &AzureStorageProfile{}
		return json.Unmarshal(data, p.Azure)
	case StorageTypeLocal:
		p.Local = &LocalStorageProfile{}
		return json.Unmarshal(data, p.Local)
	}
	return fmt.Errorf("unknown storage profile type %q", tag.Type)
}

// Validate checks structural invariants of the active variant.
func (p StorageProfile) Validate() error {
	switch p.Type {
	case StorageTypeS3:
		if p.S3 == nil || p.S3.Bucket == "" {
			return BadRequest("s3 storage profile requires a bucket")
		}
	case StorageTypeGCS:
		if p.GCS == nil || p.GCS.Bucket == "" {
			return BadRequest("gcs storage profile requires a bucket")
		}
	case StorageTypeAzure:
		if p.Azure == nil || p.Azure.AccountName == "" || p.Azure.Filesystem == "" {
			return BadRequest("adls storage profile requires account-name and filesystem")
		}
	case StorageTypeLocal:
		if p.Local == nil || p.Local.Path == "" {
			return BadRequest("local storage profile requires a path")
		}
	default:
		return BadRequest("unknown storage profile type %q", p.Type)
	}
	return nil
}

// DeleteProfileKind selects hard or soft tabular deletion.
type DeleteProfileKind string

const (
	DeleteProfileHard DeleteProfileKind = "hard"
	DeleteProfileSoft DeleteProfileKind = "soft"
)

// TabularDeleteProfile controls what drop_table does on this warehouse:
// hard removes the row immediately and enqueues a purge, soft keeps the row
// for Expiration and schedules the purge for later.
type TabularDeleteProfile struct {
	Kind       DeleteProfileKind `json:"type"`
	Expiration Duration          `json:"expiration,omitempty"`
}

// ExpirationSeconds returns the soft-delete grace period.
func (p TabularDeleteProfile) ExpirationSeconds() time.Duration {
	return time.Duration(p.Expiration)
}
