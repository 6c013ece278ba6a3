package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/sirupsen/logrus"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// SourceInputs parameterize one source run.
type SourceInputs struct {
	Config  map[string]interface{}
	Session map[string]interface{}
	Since   *time.Time
	Limit   int
	Offset  int
}

// SourceOutput is the parsed result of one source run: the pulled
// records, the opaque continuation state, and the directory holding
// downloaded files.
type SourceOutput struct {
	Records  []map[string]interface{}
	Session  map[string]interface{}
	FilesDir string
}

// RunSource executes one source container.
//
// Differences from hook runs: network access stays enabled (sources call
// upstream APIs), the rootfs stays writable, /osa/files is mounted
// read-write, and the output is records.jsonl rather than features.json.
// Container failures (image resolution, create, start, wait, OOM kill,
// non-zero exit, timeout) surface as ExternalService errors; the calling
// handler's retry policy applies.
func (r *Runner) RunSource(ctx context.Context, def hook.SourceDefinition, inputs SourceInputs, filesDir, workDir string) (SourceOutput, error) {
	log := r.log.WithComponent("oci-runner").WithField("source", def.Name)

	staging := filepath.Join(workDir, "input")
	output := filepath.Join(workDir, "output")
	for _, dir := range []string{staging, output, filesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return SourceOutput{}, errors.Internal("create source workspace", err)
		}
	}
	defer os.RemoveAll(staging)

	if err := r.stageSourceInputs(staging, def, inputs); err != nil {
		return SourceOutput{}, errors.Internal("stage source inputs", err)
	}

	timeout := time.Duration(def.Limits.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.runSourceContainer(runCtx, def, inputs, staging, filesDir, output); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			log.WithField("timeout", timeout).Error("source timed out")
			return SourceOutput{}, errors.ExternalService(
				fmt.Sprintf("source %s timed out after %ds", def.Name, def.Limits.TimeoutSeconds), nil)
		}
		return SourceOutput{}, err
	}

	out := SourceOutput{
		Records:  parseRecords(output),
		Session:  parseSession(output),
		FilesDir: filesDir,
	}
	log.WithFields(logrus.Fields{"records": len(out.Records)}).Info("source finished")
	return out, nil
}

func (r *Runner) stageSourceInputs(staging string, def hook.SourceDefinition, inputs SourceInputs) error {
	if len(def.Config) > 0 || len(inputs.Config) > 0 {
		merged := map[string]interface{}{}
		for k, v := range def.Config {
			merged[k] = v
		}
		for k, v := range inputs.Config {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(staging, "config.json"), raw, 0o644); err != nil {
			return err
		}
	}

	if len(inputs.Session) > 0 {
		raw, err := json.Marshal(inputs.Session)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(staging, "session.json"), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runSourceContainer(ctx context.Context, def hook.SourceDefinition, inputs SourceInputs, staging, filesDir, output string) error {
	imageRef, err := r.resolveImage(ctx, def.Image, def.Digest)
	if err != nil {
		return errors.ExternalService("resolve source image", err)
	}

	memory, err := ParseMemory(def.Limits.Memory)
	if err != nil {
		return err
	}
	nanoCPUs, err := ParseCPU(def.Limits.CPU)
	if err != nil {
		return err
	}

	env := []string{
		"OSA_IN=/osa/in",
		"OSA_OUT=/osa/out",
		"OSA_FILES=/osa/files",
	}
	if inputs.Since != nil {
		env = append(env, "OSA_SINCE="+inputs.Since.UTC().Format(time.RFC3339))
	}
	if inputs.Limit > 0 {
		env = append(env, fmt.Sprintf("OSA_LIMIT=%d", inputs.Limit))
	}
	if inputs.Offset > 0 {
		env = append(env, fmt.Sprintf("OSA_OFFSET=%d", inputs.Offset))
	}

	pidsLimit := int64(256)
	created, err := r.docker.ContainerCreate(ctx, &container.Config{
		Image: imageRef,
		Env:   env,
	}, &container.HostConfig{
		Binds: []string{
			r.hostPath(staging) + ":/osa/in:ro",
			r.hostPath(output) + ":/osa/out:rw",
			r.hostPath(filesDir) + ":/osa/files:rw",
		},
		// Network stays enabled and the rootfs writable: sources pull
		// from upstream APIs and may need scratch space.
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   nanoCPUs,
			PidsLimit:  &pidsLimit,
		},
	}, nil, nil, "")
	if err != nil {
		return errors.ExternalService("create source container", err)
	}
	defer r.removeContainer(created.ID)

	if err := r.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return errors.ExternalService("start source container", err)
	}

	exitCode, err := r.waitContainer(ctx, created.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ExternalService("wait source container", err)
	}

	inspect, err := r.docker.ContainerInspect(ctx, created.ID)
	if err != nil {
		return errors.ExternalService("inspect source container", err)
	}
	if inspect.State != nil && inspect.State.OOMKilled {
		return errors.ExternalService(fmt.Sprintf("source %s killed by OOM", def.Name), nil)
	}

	if exitCode != 0 {
		return errors.ExternalService(
			fmt.Sprintf("source %s exited with code %d: %s", def.Name, exitCode, r.logsTail(ctx, created.ID)), nil)
	}
	return nil
}
