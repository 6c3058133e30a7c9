package docker

import "github.com/docker/docker/api/types/container"

// SandboxUser is the uid:gid every tool container runs as.
const SandboxUser = "1000:1000"

// SandboxLimits is the host configuration applied to every tool container.
// Containers are removed by the runner after their logs are read.
func SandboxLimits() container.HostConfig {
	pids := int64(64)
	return container.HostConfig{
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:    512 * 1024 * 1024,
			NanoCPUs:  1_000_000_000,
			PidsLimit: &pids,
		},
		NetworkMode: "bridge",
	}
}
