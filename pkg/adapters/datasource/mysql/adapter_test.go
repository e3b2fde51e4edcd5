package mysql

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func TestFormatDSN_RoundTrips(t *testing.T) {
	cfg, err := FromCredentials(models.Credentials{
		Host:     "db.internal",
		Username: "reader",
		Password: "p@ss:w/rd",
		Database: "shop",
		SSLMode:  "disable",
	})
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(cfg.FormatDSN())
	require.NoError(t, err)
	assert.Equal(t, "reader", parsed.User)
	assert.Equal(t, "p@ss:w/rd", parsed.Passwd)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "false", parsed.TLSConfig)
}

func TestTLSFromSSLMode(t *testing.T) {
	tests := map[string]string{
		"":            "preferred",
		"prefer":      "preferred",
		"disable":     "false",
		"require":     "true",
		"verify-full": "true",
		"skip-verify": "skip-verify",
	}
	for mode, want := range tests {
		assert.Equal(t, want, tlsFromSSLMode(mode), mode)
	}
}

func TestFromCredentials_Validation(t *testing.T) {
	_, err := FromCredentials(models.Credentials{Username: "u", Database: "d"})
	assert.ErrorContains(t, err, "host")
	_, err = FromCredentials(models.Credentials{Host: "h", Database: "d"})
	assert.ErrorContains(t, err, "user")
	_, err = FromCredentials(models.Credentials{Host: "h", Username: "u"})
	assert.ErrorContains(t, err, "database")

	cfg, err := FromCredentials(models.Credentials{ConnectionString: "u:p@tcp(pscale.example:3306)/db?tls=true"})
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(pscale.example:3306)/db?tls=true", cfg.FormatDSN())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err   error
		kind  apperrors.Kind
		known bool
	}{
		{&mysql.MySQLError{Number: 1142, Message: "SELECT command denied to user"}, apperrors.KindPermission, true},
		{&mysql.MySQLError{Number: 1044}, apperrors.KindPermission, true},
		{fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1143}), apperrors.KindPermission, true},
		{&mysql.MySQLError{Number: 1045}, apperrors.KindConnection, true},
		{mysql.ErrInvalidConn, apperrors.KindConnection, true},
		{&mysql.MySQLError{Number: 1054, Message: "Unknown column"}, "", false},
	}
	for _, tt := range tests {
		kind, ok := classifyError(tt.err)
		assert.Equal(t, tt.known, ok, tt.err.Error())
		assert.Equal(t, tt.kind, kind, tt.err.Error())
	}
}

func TestRegistration(t *testing.T) {
	for _, name := range []string{"mysql", "mariadb", "planetscale"} {
		reg, ok := datasource.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "mysql", reg.Info.Type)
	}
}
