package cli

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_HealthzThenGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var status int
	var body string
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "ph.db")},
		Addr:        "127.0.0.1:0",
		ready: func(addr string) {
			defer cancel()
			resp, err := http.Get("http://" + addr + "/healthz")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			status, body = resp.StatusCode, string(data)
		},
	}

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.NoError(t, runServe(opts, cmd))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "ok")
}

func TestServe_BadAddress(t *testing.T) {
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "ph.db")},
		Addr:        "not-an-address",
	}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetErr(io.Discard)

	err := runServe(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
