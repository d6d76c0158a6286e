package domain_test

import (
	"testing"

	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProjectID(t *testing.T) {
	for _, valid := range []string{"default", "proj-1", "Tenant_A", "00000000-0000-0000-0000-000000000000"} {
		id, err := domain.ParseProjectID(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, valid, id.String())
	}

	for _, invalid := range []string{"", "with space", "slash/", "dot.", "ümlaut"} {
		_, err := domain.ParseProjectID(invalid)
		require.Error(t, err, invalid)
		assert.True(t, domain.IsType(err, domain.ErrTypeMalformedProjectID))
	}
}

func TestParseWarehouseID(t *testing.T) {
	id := domain.NewWarehouseID()
	parsed, err := domain.ParseWarehouseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = domain.ParseWarehouseID("not-a-uuid")
	assert.Error(t, err)
}

func TestStatisticsIDIsTimeOrdered(t *testing.T) {
	first := domain.NewStatisticsID()
	second := domain.NewStatisticsID()
	assert.Less(t, first.String(), second.String())

	var parsed domain.StatisticsID
	require.NoError(t, parsed.UnmarshalText([]byte(first.String())))
	assert.Equal(t, first, parsed)
}

func TestNamespaceIdent(t *testing.T) {
	ident, err := domain.NewNamespaceIdent([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", ident.String())
	assert.Equal(t, "a.b", ident.Parent().String())
	assert.Nil(t, ident.Parent().Parent().Parent())

	_, err = domain.NewNamespaceIdent(nil)
	assert.True(t, domain.IsType(err, domain.ErrTypeInvalidNamespace))
	_, err = domain.NewNamespaceIdent([]string{"a", ""})
	assert.True(t, domain.IsType(err, domain.ErrTypeInvalidNamespace))
}

func TestParseNamespaceIdent_MultipartEncoding(t *testing.T) {
	ident, err := domain.ParseNamespaceIdent("outer\x1finner")
	require.NoError(t, err)
	assert.Equal(t, domain.NamespaceIdent{"outer", "inner"}, ident)
}
