// Package signer signs S3 requests on behalf of catalog clients. Clients
// never see the warehouse credential: they send the request they want to
// make, the signer checks table-level authorization, signs with the
// warehouse's storage secret and returns the authorization headers.
package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/cache"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/secrets"
	"github.com/lakekeeper/lakekeeper/internal/storage"
)

const unsignedPayload = "UNSIGNED-PAYLOAD"

// Request is the client's sign request: the S3 call it wants to make.
type Request struct {
	Method  string              `json:"method"`
	URI     string              `json:"uri"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body,omitempty"`
}

// Response carries the signed URI and the headers the client must send.
type Response struct {
	URI     string              `json:"uri"`
	Headers map[string][]string `json:"headers"`
}

// Target pins the table when the sign route carries namespace/table path
// parameters. When nil, the table is inferred from the request URI.
type Target struct {
	Kind  domain.TabularKind
	Ident domain.TabularIdent
}

// Catalog is the slice of the store the signer needs. catalog.Store
// satisfies it.
type Catalog interface {
	GetWarehouse(ctx context.Context, id domain.WarehouseID) (*domain.Warehouse, error)
	GetTabularByIdent(ctx context.Context, warehouse domain.WarehouseID, kind domain.TabularKind, ident domain.TabularIdent) (*domain.Tabular, error)
	ResolveTabularByLocation(ctx context.Context, warehouse domain.WarehouseID, location string) (*domain.Tabular, error)
}

// Signer resolves the target table, gates the request and signs it.
type Signer struct {
	store   Catalog
	secrets secrets.Store
	authz   *authz.Mediator
	logger  *slog.Logger
	now     func() time.Time

	// creds keeps recently used storage credentials out of the secret
	// backend's request path. Credential rotation takes effect within the
	// cache TTL.
	creds *cache.Cache[domain.SecretID, storage.S3Credential]
}

func New(store Catalog, secretStore secrets.Store, mediator *authz.Mediator, logger *slog.Logger) *Signer {
	return &Signer{
		store:   store,
		secrets: secretStore,
		authz:   mediator,
		logger:  logger.With("component", "signer"),
		now:     time.Now,
		creds:   cache.New[domain.SecretID, storage.S3Credential](cache.Options{TTL: time.Minute}),
	}
}

// Sign authorizes and signs one S3 request against the warehouse's storage
// credential. Reads need read access on the target table, writes need commit
// access, metadata reads need metadata access.
func (s *Signer) Sign(ctx context.Context, meta *domain.RequestMetadata, warehouseID domain.WarehouseID, target *Target, req Request) (*Response, error) {
	wh, err := s.store.GetWarehouse(ctx, warehouseID)
	if wh, err = s.authz.RequireWarehouseUse(ctx, meta, wh, err); err != nil {
		return nil, err
	}
	if wh.Status != domain.WarehouseStatusActive {
		return nil, domain.BadRequest("warehouse %q is deactivated", wh.Name)
	}
	if wh.StorageProfile.Type != domain.StorageTypeS3 {
		return nil, domain.BadRequest("warehouse %q does not use S3 storage", wh.Name)
	}

	parsed, err := url.Parse(req.URI)
	if err != nil || parsed.Host == "" {
		return nil, domain.BadRequest("invalid sign uri %q", req.URI)
	}
	bucket, key, err := locate(parsed, wh.StorageProfile.S3.Bucket)
	if err != nil {
		return nil, err
	}
	if bucket != wh.StorageProfile.S3.Bucket {
		return nil, domain.BadRequest("bucket %q does not belong to warehouse %q", bucket, wh.Name)
	}
	location := "s3://" + bucket + "/" + key

	tab, err := s.resolveTabular(ctx, wh.ID, target, location)
	action := actionFor(req.Method, key)
	kind := domain.TabularKindTable
	if target != nil {
		kind = target.Kind
	} else if tab != nil {
		kind = tab.Kind
	}
	if tab, err = s.authz.RequireTabularAction(ctx, meta, wh.ID, kind, tab, err, action); err != nil {
		return nil, err
	}
	// A pinned target must still own the key being signed.
	if !within(location, tab.Location) {
		return nil, domain.BadRequest("uri %q is outside the location of %s", req.URI, tab.Name)
	}

	cred, err := s.credential(ctx, wh)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, wh.StorageProfile.S3.Region, cred, req, parsed)
}

// resolveTabular finds the table either by its route ident or by mapping the
// object key back onto a registered table location.
func (s *Signer) resolveTabular(ctx context.Context, warehouse domain.WarehouseID, target *Target, location string) (*domain.Tabular, error) {
	if target != nil {
		return s.store.GetTabularByIdent(ctx, warehouse, target.Kind, target.Ident)
	}
	return s.store.ResolveTabularByLocation(ctx, warehouse, location)
}

func (s *Signer) credential(ctx context.Context, wh *domain.Warehouse) (storage.S3Credential, error) {
	if wh.StorageSecretID == nil {
		return storage.S3Credential{}, nil
	}
	if cred, ok := s.creds.Get(*wh.StorageSecretID); ok {
		return cred, nil
	}
	material, err := s.secrets.Retrieve(ctx, *wh.StorageSecretID)
	if err != nil {
		return storage.S3Credential{}, err
	}
	cred, err := storage.ParseS3Credential(material)
	if err != nil {
		return storage.S3Credential{}, err
	}
	s.creds.Set(*wh.StorageSecretID, cred)
	return cred, nil
}

func (s *Signer) sign(ctx context.Context, region string, cred storage.S3Credential, req Request, parsed *url.URL) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, parsed.String(), nil)
	if err != nil {
		return nil, domain.BadRequest("invalid sign request: %v", err)
	}
	for name, values := range req.Headers {
		switch strings.ToLower(name) {
		case "authorization", "x-amz-date", "x-amz-content-sha256":
			// replaced by the signature
		default:
			for _, v := range values {
				httpReq.Header.Add(name, v)
			}
		}
	}
	httpReq.Host = parsed.Host

	payloadHash := unsignedPayload
	if len(req.Body) > 0 {
		sum := sha256.Sum256(req.Body)
		payloadHash = hex.EncodeToString(sum[:])
	}
	httpReq.Header.Set("x-amz-content-sha256", payloadHash)

	signingTime := s.now().UTC()
	signer := v4.NewSigner()
	// A warehouse without a stored secret signs with empty credentials;
	// the static provider rejects those, so it only runs when keys exist.
	var awsCred aws.Credentials
	if cred.AccessKey != "" {
		awsCred, err = credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, "").Retrieve(ctx)
		if err != nil {
			return nil, fmt.Errorf("build credentials: %w", err)
		}
	}
	if err := signer.SignHTTP(ctx, awsCred, httpReq, payloadHash, "s3", region, signingTime); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	headers := make(map[string][]string, len(httpReq.Header))
	for name, values := range httpReq.Header {
		headers[name] = values
	}
	return &Response{URI: parsed.String(), Headers: headers}, nil
}

// locate extracts bucket and key from an S3 URL, handling both
// virtual-hosted style (bucket.s3.region.host/key) and path style
// (host/bucket/key). warehouseBucket disambiguates hosts whose first label
// happens to match a path segment.
func locate(u *url.URL, warehouseBucket string) (bucket, key string, err error) {
	path := strings.TrimPrefix(u.Path, "/")
	if strings.HasPrefix(u.Host, warehouseBucket+".") {
		return warehouseBucket, path, nil
	}
	bucket, key, _ = strings.Cut(path, "/")
	if bucket == "" {
		return "", "", domain.BadRequest("cannot determine bucket from uri %q", u.String())
	}
	return bucket, key, nil
}

// actionFor maps the S3 method and key onto the table permission the caller
// needs. Writes always need commit rights; metadata files are readable with
// metadata access alone.
func actionFor(method, key string) authz.TabularAction {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		if isMetadataKey(key) {
			return authz.TabularCanGetMetadata
		}
		return authz.TabularCanGetData
	default:
		return authz.TabularCanCommit
	}
}

func isMetadataKey(key string) bool {
	return strings.Contains(key, "/metadata/") || strings.HasSuffix(key, ".metadata.json")
}

func within(location, tableLocation string) bool {
	return strings.HasPrefix(location, strings.TrimSuffix(tableLocation, "/")+"/") ||
		location == tableLocation
}
