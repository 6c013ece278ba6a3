package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/validation"
	"github.com/opensciencearchive/server/infrastructure/logging"
)

// HookSpec is the subset of a hook definition the runner needs: image
// reference, limits, and per-run config. Handlers build it from the
// snapshot carried in the event payload.
type HookSpec struct {
	Name   string
	Image  string
	Digest string
	Config map[string]interface{}
	Limits hook.Limits
}

// HookInputs stage the read-only input directory for one hook run.
type HookInputs struct {
	Record   map[string]interface{}
	FilesDir string
	Config   map[string]interface{}
}

// Runner executes hook containers. One container lives per invocation;
// it is always force-deleted after wait, whether success, failure, or
// timeout.
type Runner struct {
	docker ContainerClient
	log    *logging.Logger

	// When running as a sibling container with the Docker socket
	// mounted, bind paths must be translated from this container's
	// filesystem to the host's.
	hostDataDir      string
	containerDataDir string
}

// NewRunner builds a hook runner.
func NewRunner(docker ContainerClient, log *logging.Logger) *Runner {
	return &Runner{docker: docker, log: log}
}

// WithHostDataDir configures sibling-container path translation.
func (r *Runner) WithHostDataDir(hostDataDir, containerDataDir string) *Runner {
	r.hostDataDir = hostDataDir
	r.containerDataDir = containerDataDir
	return r
}

// RunHook executes one hook container under the filesystem contract and
// returns the mapped result. Runner-internal errors surface as a failed
// HookResult, never as an error: retry decisions belong to the worker.
func (r *Runner) RunHook(ctx context.Context, spec HookSpec, inputs HookInputs, workDir string) validation.HookResult {
	log := r.log.WithComponent("oci-runner").WithField("hook", spec.Name)
	start := time.Now()

	failed := func(msg string) validation.HookResult {
		return validation.HookResult{
			HookName:        spec.Name,
			Status:          validation.HookFailed,
			ErrorMessage:    msg,
			DurationSeconds: time.Since(start).Seconds(),
		}
	}

	osaIn := filepath.Join(workDir, "in")
	osaOut := filepath.Join(workDir, "out")
	if err := r.stageHookInputs(osaIn, osaOut, spec, inputs); err != nil {
		log.WithError(err).Error("staging hook inputs failed")
		return failed(fmt.Sprintf("stage inputs: %v", err))
	}

	timeout := time.Duration(spec.Limits.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := r.runHookContainer(runCtx, spec, osaIn, osaOut)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			log.WithField("timeout", timeout).Error("hook timed out")
			return failed(fmt.Sprintf("hook timed out after %ds", spec.Limits.TimeoutSeconds))
		}
		log.WithError(err).Error("hook run failed")
		return failed(err.Error())
	}

	outcome.DurationSeconds = time.Since(start).Seconds()
	log.WithFields(logrus.Fields{
		"status":   outcome.Status,
		"duration": outcome.DurationSeconds,
	}).Info("hook finished")
	return outcome
}

// stageHookInputs lays out the read-only input directory: record.json,
// optional files/, and the merged config.json.
func (r *Runner) stageHookInputs(osaIn, osaOut string, spec HookSpec, inputs HookInputs) error {
	for _, dir := range []string{osaIn, osaOut} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	record, err := json.Marshal(inputs.Record)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(osaIn, "record.json"), record, 0o644); err != nil {
		return err
	}

	if inputs.FilesDir != "" {
		if _, err := os.Stat(inputs.FilesDir); err == nil {
			if err := copyTree(inputs.FilesDir, filepath.Join(osaIn, "files")); err != nil {
				return err
			}
		}
	}

	if len(spec.Config) > 0 || len(inputs.Config) > 0 {
		merged := map[string]interface{}{}
		for k, v := range spec.Config {
			merged[k] = v
		}
		for k, v := range inputs.Config {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(osaIn, "config.json"), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// runHookContainer creates, starts, and waits for the hook container,
// then maps its outputs. The container is removed on every path.
func (r *Runner) runHookContainer(ctx context.Context, spec HookSpec, osaIn, osaOut string) (validation.HookResult, error) {
	imageRef, err := r.resolveImage(ctx, spec.Image, spec.Digest)
	if err != nil {
		return validation.HookResult{}, err
	}

	memory, err := ParseMemory(spec.Limits.Memory)
	if err != nil {
		return validation.HookResult{}, err
	}
	nanoCPUs, err := ParseCPU(spec.Limits.CPU)
	if err != nil {
		return validation.HookResult{}, err
	}

	pidsLimit := int64(256)
	created, err := r.docker.ContainerCreate(ctx, &container.Config{
		Image: imageRef,
		Env:   []string{"OSA_IN=/osa/in", "OSA_OUT=/osa/out"},
		User:  "65534:65534",
	}, &container.HostConfig{
		Binds: []string{
			r.hostPath(osaIn) + ":/osa/in:ro",
			r.hostPath(osaOut) + ":/osa/out:rw",
		},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=100m"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   nanoCPUs,
			PidsLimit:  &pidsLimit,
		},
	}, nil, nil, "")
	if err != nil {
		return validation.HookResult{}, fmt.Errorf("create hook container: %w", err)
	}
	defer r.removeContainer(created.ID)

	if err := r.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return validation.HookResult{}, fmt.Errorf("start hook container: %w", err)
	}

	exitCode, err := r.waitContainer(ctx, created.ID)
	if err != nil {
		return validation.HookResult{}, err
	}

	inspect, err := r.docker.ContainerInspect(ctx, created.ID)
	if err != nil {
		return validation.HookResult{}, fmt.Errorf("inspect hook container: %w", err)
	}
	oomKilled := inspect.State != nil && inspect.State.OOMKilled

	progress := parseProgress(osaOut)

	if reason := checkRejection(progress); reason != "" {
		return validation.HookResult{
			HookName:        spec.Name,
			Status:          validation.HookRejected,
			RejectionReason: reason,
			Progress:        progress,
		}, nil
	}

	if exitCode != 0 {
		return validation.HookResult{
			HookName:     spec.Name,
			Status:       validation.HookFailed,
			ErrorMessage: fmt.Sprintf("hook exited with code %d: %s", exitCode, r.logsTail(ctx, created.ID)),
			Progress:     progress,
		}, nil
	}

	if oomKilled {
		return validation.HookResult{
			HookName:     spec.Name,
			Status:       validation.HookFailed,
			ErrorMessage: "hook killed by OOM",
			Progress:     progress,
		}, nil
	}

	features, err := collectFeatures(osaOut)
	if err != nil {
		return validation.HookResult{
			HookName:     spec.Name,
			Status:       validation.HookFailed,
			ErrorMessage: err.Error(),
			Progress:     progress,
		}, nil
	}

	return validation.HookResult{
		HookName: spec.Name,
		Status:   validation.HookPassed,
		Features: features,
		Progress: progress,
	}, nil
}

// resolveImage prefers a locally present tag, then the digest reference,
// and pulls from the registry as a last resort. The returned reference
// pins the digest for reproducibility whenever one is available.
func (r *Runner) resolveImage(ctx context.Context, imageName, digest string) (string, error) {
	digestRef := imageName
	if digest != "" {
		digestRef = fmt.Sprintf("%s@%s", trimTag(imageName), digest)
	}

	if _, _, err := r.docker.ImageInspectWithRaw(ctx, imageName); err == nil {
		return imageName, nil
	}
	if digest != "" {
		if _, _, err := r.docker.ImageInspectWithRaw(ctx, digestRef); err == nil {
			return digestRef, nil
		}
	}

	r.log.WithComponent("oci-runner").WithField("image", digestRef).Info("pulling image")
	reader, err := r.docker.ImagePull(ctx, digestRef, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", digestRef, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", fmt.Errorf("pull image %s: %w", digestRef, err)
	}
	return digestRef, nil
}

// waitContainer blocks until the container stops and returns its exit code.
func (r *Runner) waitContainer(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// removeContainer force-deletes a container. Failure to delete is logged
// but never affects the returned result. A fresh context keeps removal
// working after the run deadline expired.
func (r *Runner) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.log.WithComponent("oci-runner").WithError(err).WithField("container", containerID).
			Warn("container remove failed")
	}
}

// logsTail returns the last part of the container's stderr for error
// messages, capped at 500 characters.
func (r *Runner) logsTail(ctx context.Context, containerID string) string {
	reader, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "50",
	})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return ""
	}
	tail := stderr.String()
	if tail == "" {
		tail = stdout.String()
	}
	if len(tail) > 500 {
		tail = tail[len(tail)-500:]
	}
	return strings.TrimSpace(tail)
}

// hostPath translates a container-internal path to a host path for bind
// mounts when running as a sibling container.
func (r *Runner) hostPath(path string) string {
	if r.hostDataDir == "" {
		return path
	}
	return strings.Replace(path, r.containerDataDir, r.hostDataDir, 1)
}

// trimTag strips the tag from an image reference, leaving the repository.
// The colon only counts as a tag separator after the last slash, so
// registry ports survive.
func trimTag(imageName string) string {
	slash := strings.LastIndex(imageName, "/")
	if colon := strings.LastIndex(imageName, ":"); colon > slash {
		return imageName[:colon]
	}
	return imageName
}

// copyTree copies a directory recursively.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, raw, info.Mode())
	})
}
