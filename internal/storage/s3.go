// Package storage talks to warehouse object stores. It validates storage
// profiles when a warehouse is created or updated and deletes data during
// deferred purges. Credentials come from the secret store as opaque JSON.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// opTimeout bounds each object-store call.
const opTimeout = 10 * time.Second

// S3Credential is the secret material layout for S3 profiles.
type S3Credential struct {
	AccessKey string `json:"access-key"`
	SecretKey string `json:"secret-key"`
}

// ParseS3Credential decodes secret material into a credential.
func ParseS3Credential(material []byte) (S3Credential, error) {
	var cred S3Credential
	if len(material) == 0 {
		return cred, nil
	}
	if err := json.Unmarshal(material, &cred); err != nil {
		return cred, fmt.Errorf("decode s3 credential: %w", err)
	}
	return cred, nil
}

// S3 validates and cleans S3-compatible object stores.
type S3 struct {
	transport http.RoundTripper
}

// NewS3 creates the S3 adapter with a shared transport.
func NewS3() *S3 {
	return &S3{
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: opTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func (s *S3) clientFor(profile *domain.S3StorageProfile, cred S3Credential) (*minio.Client, error) {
	endpoint := profile.Endpoint
	secure := true
	if endpoint == "" {
		endpoint = "s3." + profile.Region + ".amazonaws.com"
	} else {
		endpoint = strings.TrimSuffix(endpoint, "/")
		if strings.HasPrefix(endpoint, "http://") {
			endpoint = strings.TrimPrefix(endpoint, "http://")
			secure = false
		} else {
			endpoint = strings.TrimPrefix(endpoint, "https://")
		}
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cred.AccessKey, cred.SecretKey, ""),
		Secure:    secure,
		Region:    profile.Region,
		Transport: s.transport,
	}
	if profile.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	return minio.New(endpoint, opts)
}

// Validate probes the profile before a warehouse is created: the bucket must
// exist and the credential must be able to write and delete under the key
// prefix. Failures surface as StorageBackendUnavailable with the probe error
// in the cause chain.
func (s *S3) Validate(ctx context.Context, profile domain.StorageProfile, material []byte) error {
	if profile.Type != domain.StorageTypeS3 {
		// only S3 profiles get an active probe
		return nil
	}
	cred, err := ParseS3Credential(material)
	if err != nil {
		return storageUnavailable(err)
	}
	client, err := s.clientFor(profile.S3, cred)
	if err != nil {
		return storageUnavailable(err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, profile.S3.Bucket)
	if err != nil {
		return storageUnavailable(fmt.Errorf("bucket check: %w", err))
	}
	if !exists {
		return domain.BadRequest("bucket %q does not exist", profile.S3.Bucket)
	}

	probe := strings.TrimPrefix(profile.S3.KeyPrefix+"/.lakekeeper-probe", "/")
	_, err = client.PutObject(ctx, profile.S3.Bucket, probe,
		bytes.NewReader([]byte("ok")), 2, minio.PutObjectOptions{})
	if err != nil {
		return storageUnavailable(fmt.Errorf("write probe: %w", err))
	}
	if err := client.RemoveObject(ctx, profile.S3.Bucket, probe, minio.RemoveObjectOptions{}); err != nil {
		return storageUnavailable(fmt.Errorf("delete probe: %w", err))
	}
	return nil
}

// RemovePrefix deletes every object below location. Location must live
// inside the profile's bucket.
func (s *S3) RemovePrefix(ctx context.Context, profile domain.StorageProfile, material []byte, location string) error {
	if profile.Type != domain.StorageTypeS3 {
		return nil
	}
	cred, err := ParseS3Credential(material)
	if err != nil {
		return storageUnavailable(err)
	}
	client, err := s.clientFor(profile.S3, cred)
	if err != nil {
		return storageUnavailable(err)
	}
	bucket, prefix, err := SplitS3Location(location)
	if err != nil {
		return err
	}
	if bucket != profile.S3.Bucket {
		return domain.BadRequest("location bucket %q does not match warehouse bucket %q", bucket, profile.S3.Bucket)
	}

	objects := client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimSuffix(prefix, "/") + "/",
		Recursive: true,
	})
	errCh := client.RemoveObjects(ctx, bucket, objectChannel(objects), minio.RemoveObjectsOptions{})
	for removeErr := range errCh {
		if removeErr.Err != nil {
			return storageUnavailable(fmt.Errorf("remove %s: %w", removeErr.ObjectName, removeErr.Err))
		}
	}
	return nil
}

func objectChannel(objects <-chan minio.ObjectInfo) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range objects {
			if obj.Err != nil {
				continue
			}
			out <- obj
		}
	}()
	return out
}

// SplitS3Location splits "s3://bucket/key/prefix" into bucket and key.
func SplitS3Location(location string) (bucket, key string, err error) {
	trimmed, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", domain.BadRequest("not an s3 location: %q", location)
	}
	bucket, key, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", domain.BadRequest("missing bucket in location %q", location)
	}
	return bucket, key, nil
}

func storageUnavailable(cause error) error {
	return (&domain.Error{
		Type:    domain.ErrTypeStorageBackendUnavail,
		Code:    503,
		Message: "object store unavailable",
	}).WithCause(cause)
}
