package mssql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func TestFromCredentials_AutoDetectsAuthMethod(t *testing.T) {
	tests := []struct {
		name    string
		creds   models.Credentials
		want    string
		wantErr string
	}{
		{
			name:  "sql auth from username",
			creds: models.Credentials{Host: "sql.internal", Database: "shop", Username: "sa", Password: "pw"},
			want:  AuthSQL,
		},
		{
			name: "service principal from client id",
			creds: models.Credentials{Host: "x.database.windows.net", Database: "shop", Options: map[string]string{
				"tenant_id": "t", "client_id": "c", "client_secret": "s",
			}},
			want: AuthServicePrincipal,
		},
		{
			name: "explicit method wins",
			creds: models.Credentials{Host: "h", Database: "d", Username: "u", Options: map[string]string{
				"auth_method": "service_principal", "tenant_id": "t", "client_id": "c", "client_secret": "s",
			}},
			want: AuthServicePrincipal,
		},
		{
			name:    "no credentials",
			creds:   models.Credentials{Host: "h", Database: "d"},
			wantErr: "could not auto-detect",
		},
		{
			name:    "service principal missing secret",
			creds:   models.Credentials{Host: "h", Database: "d", Options: map[string]string{"tenant_id": "t", "client_id": "c"}},
			wantErr: "client_secret is required",
		},
		{
			name:    "unknown method",
			creds:   models.Credentials{Host: "h", Database: "d", Options: map[string]string{"auth_method": "kerberos"}},
			wantErr: "invalid auth method",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromCredentials(tt.creds)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.AuthMethod)
			assert.Equal(t, DefaultPort(), cfg.Port)
			assert.True(t, cfg.Encrypt)
		})
	}
}

func TestConnectionString_SQLAuth(t *testing.T) {
	cfg := &Config{
		Host: "sql.internal", Port: 1433, Database: "shop",
		AuthMethod: AuthSQL, Username: "sa", Password: "p@ss/word?",
		Encrypt: true, ConnectionTimeout: 15,
	}
	assert.Equal(t, "sqlserver", cfg.DriverName())

	u, err := url.Parse(cfg.ConnectionString())
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "sql.internal:1433", u.Host)
	assert.Equal(t, "sa", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/word?", pw)
	assert.Equal(t, "shop", u.Query().Get("database"))
	assert.Equal(t, "true", u.Query().Get("encrypt"))
	assert.Equal(t, "15", u.Query().Get("connection timeout"))
}

func TestConnectionString_ServicePrincipal(t *testing.T) {
	cfg := &Config{
		Host: "x.database.windows.net", Port: 1433, Database: "shop",
		AuthMethod: AuthServicePrincipal, TenantID: "tenant", ClientID: "client", ClientSecret: "s&cret",
		Encrypt: true,
	}
	assert.Equal(t, "azuresql", cfg.DriverName())

	u, err := url.Parse(cfg.ConnectionString())
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "ActiveDirectoryServicePrincipal", q.Get("fedauth"))
	assert.Equal(t, "client@tenant", q.Get("user id"))
	assert.Equal(t, "s&cret", q.Get("password"))
	assert.Nil(t, u.User)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  apperrors.Kind
		known bool
	}{
		{"select denied", mssql.Error{Number: 229, Message: "The SELECT permission was denied on the object 'salaries'"}, apperrors.KindPermission, true},
		{"column denied", mssql.Error{Number: 230}, apperrors.KindPermission, true},
		{"login failed", mssql.Error{Number: 18456}, apperrors.KindConnection, true},
		{"cannot open database", fmt.Errorf("connect: %w", mssql.Error{Number: 4060}), apperrors.KindConnection, true},
		{"invalid column", mssql.Error{Number: 207}, "", false},
		{"plain error", errors.New("boom"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := classifyError(tt.err)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestScanValue_UniqueIdentifier(t *testing.T) {
	id := mssql.UniqueIdentifier{0x6F, 0x96, 0x19, 0xFF, 0x8B, 0x86, 0xD0, 0x11, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	wire, err := id.Value()
	require.NoError(t, err)

	assert.Equal(t, id.String(), scanValue(wire, "UNIQUEIDENTIFIER"))
	assert.Equal(t, wire, scanValue(wire, "VARBINARY"))
	assert.Equal(t, int64(7), scanValue(int64(7), "UNIQUEIDENTIFIER"))
}

func TestMapType(t *testing.T) {
	tests := map[string]string{
		"rowversion":     models.TypeBinary,
		"timestamp":      models.TypeBinary,
		"smallmoney":     models.TypeDecimal,
		"datetimeoffset": models.TypeTimestamp,
		"geography":      models.TypeString,
		"nvarchar":       "",
	}
	for native, want := range tests {
		assert.Equal(t, want, mapType(native), native)
	}
}

func TestDialect_Shape(t *testing.T) {
	assert.Equal(t, "[order]]s]", Dialect.Quote("order]s"))
	assert.Equal(t, "@p3", Dialect.Placeholder(3))
	assert.Equal(t, models.Dialect{Name: "mssql", Family: models.FamilyRelational}, Dialect.Model())
}

func TestRegistration(t *testing.T) {
	for _, name := range []string{"mssql", "sqlserver", "AzureSQL"} {
		reg, ok := datasource.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "mssql", reg.Info.Type)
	}
}

func TestNewAdapter_RejectsIncompleteCredentials(t *testing.T) {
	_, err := NewAdapter(context.Background(), &models.ConnectionDescriptor{ID: "c1", Type: "mssql"}, datasource.Deps{})
	assert.Error(t, err)

	a, err := NewAdapter(context.Background(), &models.ConnectionDescriptor{
		ID: "c1", Type: "mssql",
		Credentials: models.Credentials{Host: "sql.internal", Username: "sa", Database: "shop"},
	}, datasource.Deps{})
	require.NoError(t, err)
	assert.Equal(t, "mssql", a.Dialect().Name)
}
