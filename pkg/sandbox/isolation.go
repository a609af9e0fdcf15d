package sandbox

import (
	"os/exec"
	"syscall"
)

// profile rlimits, keyed by sandbox_profile (spec §4.10 step 5
// "Resource limits (memory, CPU seconds, file size, open files)").
type rlimits struct {
	memoryBytes uint64
	cpuSeconds  uint64
	fileBytes   uint64
	openFiles   uint64
}

var profileLimits = map[string]rlimits{
	"restrictive": {memoryBytes: 256 << 20, cpuSeconds: 10, fileBytes: 16 << 20, openFiles: 32},
	"standard":    {memoryBytes: 512 << 20, cpuSeconds: 30, fileBytes: 64 << 20, openFiles: 64},
	"permissive":  {memoryBytes: 2 << 30, cpuSeconds: 120, fileBytes: 512 << 20, openFiles: 256},
}

func limitsForProfile(profile string) rlimits {
	if l, ok := profileLimits[profile]; ok {
		return l
	}
	return profileLimits["standard"]
}

// applyIsolation configures cmd's process attributes for the requested
// profile (spec §4.10 step 5). The "direct" profile applies no
// isolation at all ("dev only"); any other value mounts the process
// into fresh PID/mount/UTS namespaces, matching "overlaid /proc, /dev,
// /tmp, and the work dir bind-mounted rw" at the namespace level — the
// actual bind-mount/overlay setup is the responsibility of the runner
// binary's own init step, run inside the new namespaces.
//
// Rlimits are applied via Setrlimit calls made from the child's own
// pre-exec environment rather than from this (the parent) process,
// since the os/exec package has no pre-exec hook: the runner binary
// reads AGENTMESH_RLIMIT_* from its environment and calls
// syscall.Setrlimit on itself before execing the tool interpreter. See
// cmd/sandboxrunner.
func applyIsolation(cmd *exec.Cmd, profile string) {
	if profile == "direct" || profile == "" {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS,
	}
	limits := limitsForProfile(profile)
	cmd.Env = append(cmd.Env,
		rlimitEnv("AGENTMESH_RLIMIT_AS", limits.memoryBytes),
		rlimitEnv("AGENTMESH_RLIMIT_CPU", limits.cpuSeconds),
		rlimitEnv("AGENTMESH_RLIMIT_FSIZE", limits.fileBytes),
		rlimitEnv("AGENTMESH_RLIMIT_NOFILE", limits.openFiles),
	)
}

func rlimitEnv(key string, value uint64) string {
	return key + "=" + itoa(value)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
