package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host     string
		inDocker bool
		expected string
	}{
		{"mydb.example.com", true, "mydb.example.com"},
		{"192.168.1.100", true, "192.168.1.100"},
		{"localhost", true, "host.docker.internal"},
		{"LOCALHOST", true, "host.docker.internal"},
		{"127.0.0.1", true, "host.docker.internal"},
		{"[::1]", true, "host.docker.internal"},
		{"localhost", false, "localhost"},
		{"::1", false, "::1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, resolveHost(tt.host, tt.inDocker), "host=%q inDocker=%v", tt.host, tt.inDocker)
	}
}

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	assert.Equal(t, "db.internal", ResolveHostForDocker("db.internal"))
}
