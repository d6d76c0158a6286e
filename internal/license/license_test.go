package license_test

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/license"
)

func makeToken(t *testing.T, payload string, key string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return license.SignToken(header, body, key)
}

func TestNewVerifiesAndDecodes(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour).Unix()
	token := makeToken(t,
		fmt.Sprintf(`{"org_id":"acme","table_quota":50000,"exp":%d}`, exp),
		license.DefaultHMACKey)

	checker, err := license.New(token, "")
	require.NoError(t, err)
	assert.Equal(t, "acme", checker.OrgID())

	status := checker.Status()
	assert.True(t, status.Valid)
	assert.False(t, status.Expired)
	assert.EqualValues(t, 50000, status.QuotaMax)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, exp, status.ExpiresAt.Unix())
}

func TestNewRejectsTamperedToken(t *testing.T) {
	token := makeToken(t, `{"org_id":"acme"}`, license.DefaultHMACKey)
	tampered := token[:len(token)-2] + "xx"

	_, err := license.New(tampered, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, license.ErrInvalidSignature)
}

func TestNewRejectsWrongKey(t *testing.T) {
	token := makeToken(t, `{"org_id":"acme"}`, "some-other-key")
	_, err := license.New(token, "")
	require.Error(t, err)
}

func TestVerifySignatureMissing(t *testing.T) {
	err := license.VerifySignature("aGVhZGVy.cGF5bG9hZA.", license.DefaultHMACKey)
	assert.ErrorIs(t, err, license.ErrMissingSignature)
}

func TestStatusExpired(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Unix()
	token := makeToken(t, fmt.Sprintf(`{"org_id":"acme","exp":%d}`, exp), license.DefaultHMACKey)

	checker, err := license.New(token, "")
	require.NoError(t, err)
	status := checker.Status()
	assert.False(t, status.Valid)
	assert.True(t, status.Expired)
}

func TestQuotaTracking(t *testing.T) {
	checker := license.NewUnlicensed()
	status := checker.Status()
	assert.True(t, status.Valid)
	assert.EqualValues(t, license.CommunityTableQuota, status.QuotaMax)
	assert.False(t, status.QuotaExceeded())

	checker.SetUsage(license.CommunityTableQuota)
	assert.True(t, checker.Status().QuotaExceeded())
}
