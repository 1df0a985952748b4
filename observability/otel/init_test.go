package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,broken, =skip,x-tenant=vaults")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-tenant":      "vaults",
	}, headers)
	require.Empty(t, ParseHeaders(""))
}
