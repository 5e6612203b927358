package execution

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	mu         sync.Mutex
	calls      []string
	containers map[string]*container.Config
	hosts      map[string]*container.HostConfig
	images     map[string]bool
	buildBody  string
	logs       []byte
	nextID     int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: map[string]*container.Config{},
		hosts:      map[string]*container.HostConfig{},
		images:     map[string]bool{},
		buildBody:  `{"stream":"Step 1/1 : FROM python:3.12-slim\n"}` + "\n",
	}
}

func (f *fakeDocker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDocker) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	_, _ = io.Copy(io.Discard, buildContext)
	f.record("build " + options.Tags[0])
	f.images[options.Tags[0]] = true
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildBody))}, nil
}

func (f *fakeDocker) ImageRemove(_ context.Context, imageID string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.record("rmi " + imageID)
	if !f.images[imageID] {
		return nil, errdefs.NotFound(errors.New("no such image"))
	}
	delete(f.images, imageID)
	return nil, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.record("create " + name)
	if _, ok := f.containers[name]; ok {
		return container.CreateResponse{}, errdefs.Conflict(errors.New("name in use"))
	}
	f.containers[name] = cfg
	f.hosts[name] = hostCfg
	f.nextID++
	return container.CreateResponse{ID: name + "-id"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.record("start " + id)
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, name string, _ container.StopOptions) error {
	f.record("stop " + name)
	if _, ok := f.containers[name]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, name string, _ container.RemoveOptions) error {
	f.record("rm " + name)
	if _, ok := f.containers[name]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	delete(f.containers, name)
	return nil
}

func (f *fakeDocker) ContainerRestart(_ context.Context, name string, _ container.StopOptions) error {
	f.record("restart " + name)
	if _, ok := f.containers[name]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	return nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, name string) (types.ContainerJSON, error) {
	cfg, ok := f.containers[name]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("no such container"))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{HostConfig: f.hosts[name]},
		Config:            cfg,
	}, nil
}

func (f *fakeDocker) ContainerLogs(_ context.Context, name string, _ container.LogsOptions) (io.ReadCloser, error) {
	if _, ok := f.containers[name]; !ok {
		return nil, errdefs.NotFound(errors.New("no such container"))
	}
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeDocker) Close() error { return nil }

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM python:3.12-slim\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TELEGRAM_BOT_TOKEN=123:abc\n"), 0o600))
	return dir
}

func muxed(t *testing.T, stdout, stderr string) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	require.NoError(t, err)
	return buf.Bytes()
}

func TestRunPassesEnvAndPorts(t *testing.T) {
	fake := newFakeDocker()
	rt := newRuntime(fake)
	dir := projectDir(t)

	require.NoError(t, rt.Build(context.Background(), dir, "echo-3f2c9a4e"))
	id, err := rt.Run(context.Background(), "echo-3f2c9a4e", filepath.Join(dir, ".env"), map[string]string{"8080/tcp": "18080"})
	require.NoError(t, err)
	assert.Equal(t, "echo-3f2c9a4e-id", id)

	cfg := fake.containers["echo-3f2c9a4e"]
	assert.Equal(t, []string{"TELEGRAM_BOT_TOKEN=123:abc"}, cfg.Env)
	assert.Equal(t, "true", cfg.Labels[ManagedLabel])
	assert.Contains(t, cfg.ExposedPorts, nat.Port("8080/tcp"))
	assert.Equal(t, "18080", fake.hosts["echo-3f2c9a4e"].PortBindings["8080/tcp"][0].HostPort)
}

func TestRunReplacesExistingContainer(t *testing.T) {
	fake := newFakeDocker()
	rt := newRuntime(fake)

	_, err := rt.Run(context.Background(), "bot-1", "", nil)
	require.NoError(t, err)
	_, err = rt.Run(context.Background(), "bot-1", "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"rm bot-1", "create bot-1", "start bot-1-id",
		"rm bot-1", "create bot-1", "start bot-1-id",
	}, fake.calls)
	assert.Len(t, fake.containers, 1)
}

func TestBuildFailureCarriesOutput(t *testing.T) {
	fake := newFakeDocker()
	fake.buildBody = `{"stream":"Step 1/2 : RUN pip install nope\n"}` + "\n" +
		`{"errorDetail":{"message":"pip failed"},"error":"pip failed"}` + "\n"
	rt := newRuntime(fake)

	err := rt.Build(context.Background(), projectDir(t), "bot-1")
	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, KindBuild, opErr.Kind)
	assert.Contains(t, err.Error(), "pip failed")
}

func TestRestartWithRebuildRecreatesSameName(t *testing.T) {
	fake := newFakeDocker()
	rt := newRuntime(fake)
	dir := projectDir(t)
	ctx := context.Background()

	require.NoError(t, rt.Build(ctx, dir, "bot-1"))
	_, err := rt.Run(ctx, "bot-1", filepath.Join(dir, ".env"), nil)
	require.NoError(t, err)

	require.NoError(t, rt.Restart(ctx, "bot-1", true, dir))
	require.NoError(t, rt.Restart(ctx, "bot-1", true, dir))

	assert.Len(t, fake.containers, 1)
	assert.Equal(t, []string{"TELEGRAM_BOT_TOKEN=123:abc"}, fake.containers["bot-1"].Env)
}

func TestRestartMissingContainerIsNoop(t *testing.T) {
	fake := newFakeDocker()
	rt := newRuntime(fake)

	assert.NoError(t, rt.Restart(context.Background(), "ghost", false, ""))
	assert.NoError(t, rt.Restart(context.Background(), "ghost", true, projectDir(t)))
	assert.NoError(t, rt.Stop(context.Background(), "ghost"))
	assert.Empty(t, fake.containers)
}

func TestLogs(t *testing.T) {
	fake := newFakeDocker()
	fake.logs = muxed(t, "starting polling\n", "Traceback: KeyError\n")
	rt := newRuntime(fake)

	_, err := rt.Logs(context.Background(), "ghost", 100)
	assert.True(t, IsNotFound(err))

	_, err = rt.Run(context.Background(), "bot-1", "", nil)
	require.NoError(t, err)
	out, err := rt.Logs(context.Background(), "bot-1", 100)
	require.NoError(t, err)
	assert.Equal(t, "starting polling\nTraceback: KeyError\n", out)
}

func TestStreamLogs(t *testing.T) {
	fake := newFakeDocker()
	fake.logs = muxed(t, "one\ntwo\n", "three\n")
	rt := newRuntime(fake)
	_, err := rt.Run(context.Background(), "bot-1", "", nil)
	require.NoError(t, err)

	lines, errc := rt.StreamLogs(context.Background(), "bot-1", 10)
	var got []string
	for l := range lines {
		got = append(got, l)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.NoError(t, <-errc)
}

func TestContainerName(t *testing.T) {
	tests := []struct {
		bot, id, want string
	}{
		{"Echo_Helper_bot", "3F2C9A4E-1111-2222-3333-444455556666", "echo-helper-bot-3f2c9a4e"},
		{"my.bot", "ab-cd", "my-bot-abcd"},
		{"___", "12345678abcdef", "bot-12345678"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainerName(tt.bot, tt.id))
	}
}
