// Package execution builds, runs and observes generated bots as Docker
// containers. One image and one container share a single name per project.
package execution

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/joho/godotenv"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"botbuilder/internal/logging"
	"botbuilder/internal/metrics"
)

// ManagedLabel marks containers created by botbuilder.
const ManagedLabel = "io.botbuilder.managed"

// dockerAPI is the subset of the Docker client used by Runtime.
type dockerAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

// Runtime drives the Docker Engine API.
type Runtime struct {
	api         dockerAPI
	stopTimeout int
}

// NewDocker connects to the Docker daemon. An empty host uses DOCKER_HOST or
// the platform default.
func NewDocker(host string) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker sdk client init failed: %w", err)
	}
	return newRuntime(cli), nil
}

func newRuntime(api dockerAPI) *Runtime {
	return &Runtime{api: api, stopTimeout: 10}
}

// Close releases the Docker client.
func (r *Runtime) Close() error { return r.api.Close() }

// Build builds an image tagged name from the Dockerfile in dir.
func (r *Runtime) Build(ctx context.Context, dir, name string) (err error) {
	defer r.observe("build", name, time.Now(), &err)

	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return &OpError{Op: "build", Kind: KindBuild, Name: name, Err: fmt.Errorf("archive build context: %w", err)}
	}
	defer buildCtx.Close()

	resp, err := r.api.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{name},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{ManagedLabel: "true"},
	})
	if err != nil {
		return apiError("build", name, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &out, 0, false, nil); err != nil {
		return &OpError{Op: "build", Kind: KindBuild, Name: name, Err: fmt.Errorf("%w\n%s", err, lastLines(out.String(), 20))}
	}
	logging.L().Debug("image built", zap.String("image", name))
	return nil
}

// Run starts a fresh container called name from the image called name. Any
// existing container with that name is removed first. Environment variables
// come from envFile (dotenv format) when set; ports maps "8080/tcp" to a host
// port.
func (r *Runtime) Run(ctx context.Context, name, envFile string, ports map[string]string) (id string, err error) {
	defer r.observe("run", name, time.Now(), &err)

	if err := r.removeContainer(ctx, name); err != nil {
		return "", err
	}

	env, err := readEnvFile(envFile)
	if err != nil {
		return "", &OpError{Op: "run", Kind: KindContainer, Name: name, Err: err}
	}
	exposed, bindings, err := portBindings(ports)
	if err != nil {
		return "", &OpError{Op: "run", Kind: KindContainer, Name: name, Err: err}
	}

	cfg := &container.Config{
		Image:        name,
		Env:          env,
		ExposedPorts: exposed,
		Labels:       map[string]string{ManagedLabel: "true"},
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}
	return r.createAndStart(ctx, name, cfg, hostCfg)
}

// Stop stops the named container. A missing container is not an error.
func (r *Runtime) Stop(ctx context.Context, name string) (err error) {
	defer r.observe("stop", name, time.Now(), &err)

	timeout := r.stopTimeout
	err = r.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return apiError("stop", name, err)
	}
	return nil
}

// Restart restarts the named container. With rebuild set, the old image is
// removed, the image is rebuilt from dir and the container is recreated under
// the same name with its previous environment and port bindings, since a
// container stays pinned to the image it was created from. Restarting a
// missing container is a no-op.
func (r *Runtime) Restart(ctx context.Context, name string, rebuild bool, dir string) (err error) {
	if !rebuild {
		defer r.observe("restart", name, time.Now(), &err)
		timeout := r.stopTimeout
		err = r.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout})
		if errdefs.IsNotFound(err) {
			logging.L().Info("restart skipped, container not found", zap.String("container", name))
			return nil
		}
		if err != nil {
			return apiError("restart", name, err)
		}
		return nil
	}

	prev, inspectErr := r.api.ContainerInspect(ctx, name)
	if inspectErr != nil && !errdefs.IsNotFound(inspectErr) {
		return apiError("restart", name, inspectErr)
	}

	if _, err := r.api.ImageRemove(ctx, name, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil && !errdefs.IsNotFound(err) {
		return apiError("remove image", name, err)
	}
	if err := r.Build(ctx, dir, name); err != nil {
		return err
	}

	if inspectErr != nil {
		logging.L().Info("restart skipped, container not found", zap.String("container", name))
		return nil
	}

	defer r.observe("restart", name, time.Now(), &err)
	if err := r.removeContainer(ctx, name); err != nil {
		return err
	}

	cfg := &container.Config{Image: name, Labels: map[string]string{ManagedLabel: "true"}}
	hostCfg := &container.HostConfig{}
	if prev.Config != nil {
		cfg.Env = prev.Config.Env
		cfg.ExposedPorts = prev.Config.ExposedPorts
	}
	if prev.ContainerJSONBase != nil && prev.HostConfig != nil {
		hostCfg.PortBindings = prev.HostConfig.PortBindings
	}
	_, err = r.createAndStart(ctx, name, cfg, hostCfg)
	return err
}

// Logs returns the last tail lines of combined stdout and stderr.
func (r *Runtime) Logs(ctx context.Context, name string, tail int) (out string, err error) {
	defer r.observe("logs", name, time.Now(), &err)

	rc, err := r.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailArg(tail),
	})
	if err != nil {
		return "", apiError("logs", name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), apiError("logs", name, err)
	}
	return buf.String(), nil
}

// StreamLogs follows the container's output line by line, starting with the
// last tail lines. Both channels are closed when the stream ends or ctx is
// cancelled; cancellation itself is not reported as an error.
func (r *Runtime) StreamLogs(ctx context.Context, name string, tail int) (<-chan string, <-chan error) {
	lines := make(chan string, 64)
	errc := make(chan error, 1)

	rc, err := r.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tailArg(tail),
	})
	if err != nil {
		errc <- apiError("logs", name, err)
		close(lines)
		close(errc)
		return lines, errc
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()

	go func() {
		defer close(errc)
		defer close(lines)
		defer rc.Close()
		defer pr.Close()

		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errc <- apiError("logs", name, err)
		}
	}()

	return lines, errc
}

func (r *Runtime) createAndStart(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	created, err := r.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", apiError("create", name, err)
	}
	if err := r.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", &OpError{Op: "start", Kind: KindContainer, Name: name, Err: err}
	}
	logging.L().Info("container started", zap.String("container", name), zap.String("id", shortID(created.ID)))
	return created.ID, nil
}

func (r *Runtime) removeContainer(ctx context.Context, name string) error {
	err := r.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return apiError("remove", name, err)
	}
	return nil
}

func (r *Runtime) observe(op, name string, start time.Time, errp *error) {
	err := *errp
	metrics.Get().RecordContainerOp(op, err, time.Since(start))
	if err != nil {
		logging.L().Warn("container operation failed",
			zap.String("op", op),
			zap.String("name", name),
			zap.Error(err),
		)
	}
}

func readEnvFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}

func portBindings(ports map[string]string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for ctr, host := range ports {
		proto, port := nat.SplitProtoPort(ctr)
		p, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, nil, fmt.Errorf("container port %q: %w", ctr, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: host}}
	}
	return exposed, bindings, nil
}

func tailArg(n int) string {
	if n <= 0 {
		return "all"
	}
	return strconv.Itoa(n)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var nameUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// ContainerName derives the image and container name for a project:
// "<bot>-<first 8 chars of project id>", lowercased with every run of
// characters outside [a-z0-9] collapsed to "-".
func ContainerName(botName, projectID string) string {
	bot := strings.Trim(nameUnsafe.ReplaceAllString(strings.ToLower(botName), "-"), "-")
	id := strings.Trim(nameUnsafe.ReplaceAllString(strings.ToLower(projectID), ""), "-")
	if len(id) > 8 {
		id = id[:8]
	}
	switch {
	case bot == "":
		return "bot-" + id
	case id == "":
		return bot
	}
	return bot + "-" + id
}
