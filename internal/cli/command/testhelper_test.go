package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/server/redisserver"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
)

// testEnv is a meshkv server on a loopback port plus an isolated CLI
// config file.
type testEnv struct {
	addr    string
	dir     string
	cfgPath string
	store   *memory.Store
	coord   *storage.Coordinator
}

func newEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir(), store: memory.New(memory.WithShards(4))}

	be, err := backend.NewLocal(env.dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	codec, err := snapshot.NewCodecFromSecret(secret)
	if err != nil {
		t.Fatalf("NewCodecFromSecret: %v", err)
	}
	env.coord, err = storage.New(env.store, be, storage.Config{NamePattern: "dump", Format: "rdb", Codec: codec})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	h := redisserver.NewHandler(redisserver.Deps{
		Store:       env.store,
		Coordinator: env.coord,
		Scheduler:   schedule.New(nil),
	})
	srv := redisserver.New(redisserver.Config{Addr: "127.0.0.1:0"}, h, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.addr = srv.Addr().String()
	t.Cleanup(func() {
		env.coord.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	cfgDir := t.TempDir()
	env.cfgPath = filepath.Join(cfgDir, "cli.yaml")
	cfg := fmt.Sprintf("default_server: %s\nhistory_file: %s\n", env.addr, filepath.Join(cfgDir, "history"))
	if err := os.WriteFile(env.cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		k := fmt.Sprintf("key:%d", i)
		if err := env.store.SetString(0, k, []byte(k), 0); err != nil {
			t.Fatalf("SetString: %v", err)
		}
	}
	return env
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes meshkv-cli with the env's config file.
func (env *testEnv) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"meshkv-cli", "--config", env.cfgPath}, args...)
	err := app.Run(argv)
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

// mustRun fails the test when the command fails.
func (env *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	res := env.run(t, "", args...)
	if res.err != nil {
		t.Fatalf("meshkv-cli %s: %v\nstderr: %s", strings.Join(args, " "), res.err, res.stderr)
	}
	return res.stdout
}
