package db

import (
	"testing"

	"retail-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "loyalty"

	d, err := Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "postgres", d.Name())
	require.Equal(t, "loyalty", getDBNameFromDialector(d))

	cfg.Database.Type = "mysql"
	cfg.Database.Port = "3306"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "mysql", d.Name())
	require.Equal(t, "loyalty", getDBNameFromDialector(d))

	cfg.Database.Type = "sqlite"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "shop", extractDBNameFromDSN("host=x dbname=shop sslmode=disable"))
	require.Equal(t, "shop", extractDBNameFromDSN("u:p@tcp(h:1)/shop?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=x"))
}
