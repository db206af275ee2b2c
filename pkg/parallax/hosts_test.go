package parallax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHostEntry(t *testing.T) {
	tests := []struct {
		entry   string
		addr    string
		user    string
		port    int
		wantErr bool
	}{
		{entry: "web1", addr: "web1"},
		{entry: "web1:2222", addr: "web1", port: 2222},
		{entry: "deploy@web1", addr: "web1", user: "deploy"},
		{entry: "deploy@web1:2222", addr: "web1", user: "deploy", port: 2222},
		{entry: "10.0.0.5", addr: "10.0.0.5"},
		{entry: "fe80::1", addr: "fe80::1"},
		{entry: "[::1]:2222", addr: "::1", port: 2222},
		{entry: "root@[fe80::1]:22", addr: "fe80::1", user: "root", port: 22},
		{entry: "  web1  ", addr: "web1"},
		{entry: "", wantErr: true},
		{entry: "@web1", wantErr: true},
		{entry: "deploy@", wantErr: true},
		{entry: "web1:notaport", wantErr: true},
		{entry: "web1:0", wantErr: true},
		{entry: "web1:70000", wantErr: true},
		{entry: "[::1", wantErr: true},
		{entry: "../escape", wantErr: true},
		{entry: "web1/etc", wantErr: true},
		{entry: `web\1`, wantErr: true},
	}
	for _, tt := range tests {
		addr, user, port, err := ParseHostEntry(tt.entry)
		if tt.wantErr {
			assert.Error(t, err, "entry %q", tt.entry)
			continue
		}
		require.NoError(t, err, "entry %q", tt.entry)
		assert.Equal(t, tt.addr, addr, "entry %q", tt.entry)
		assert.Equal(t, tt.user, user, "entry %q", tt.entry)
		assert.Equal(t, tt.port, port, "entry %q", tt.entry)
	}
}

func TestBuildTasksAppliesDefaults(t *testing.T) {
	tasks, err := buildTasks([]string{"web1", "deploy@web2:2200"}, Options{DefaultUser: "ops", DefaultPort: 22})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "ops", tasks[0].Spec.User)
	assert.Equal(t, 22, tasks[0].Spec.Port)
	assert.Equal(t, "web1", tasks[0].Host)

	assert.Equal(t, "deploy", tasks[1].Spec.User)
	assert.Equal(t, 2200, tasks[1].Spec.Port)
	assert.Equal(t, "deploy@web2:2200", tasks[1].Host)
}

func TestBuildTasksRejectsBadEntry(t *testing.T) {
	_, err := buildTasks([]string{"web1", "bad:port"}, Options{})
	require.Error(t, err)
}
