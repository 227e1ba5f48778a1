package config

import (
	"os"
	"sync"
)

// dockerMarker is the file Docker creates in every container.
const dockerMarker = "/.dockerenv"

// dockerHostAlias reaches services published on the Docker host.
const dockerHostAlias = "host.docker.internal"

var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat(dockerMarker)
	return err == nil
})

// IsRunningInDocker reports whether the process runs in a container. The
// check runs once.
func IsRunningInDocker() bool {
	return inDocker()
}

// ResolveHostForDocker rewrites loopback hosts to the Docker host alias when
// running in a container, so a config written for a laptop still reaches a
// database or Redis on the host. Empty hosts stay empty: an unconfigured
// Redis stays disabled.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inContainer bool) string {
	if !inContainer {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}
