package scheduler

import (
	"fmt"
	"io"
	"strings"
)

// ScriptDefaults fill JobSubmission fields left empty by the caller.
type ScriptDefaults struct {
	Partition string
	Account   string
	Mounts    string // Container mounts used when the submission names none
	// LegacyGres renders GPU requests as --gres=gpu[:type]:N for
	// schedulers that predate --gpus-per-node.
	LegacyGres bool
}

// RenderBatchScript renders sub as an sbatch script: the shebang, #SBATCH
// directives, exported container environment, then the script body.
func RenderBatchScript(sub *JobSubmission, defaults ScriptDefaults) string {
	var b strings.Builder
	fmt.Fprintln(&b, "#!/bin/bash")

	directive := func(format string, a ...interface{}) {
		fmt.Fprintf(&b, "#SBATCH "+format+"\n", a...)
	}
	if sub.Name != "" {
		directive("--job-name=%s", sub.Name)
	}
	if partition := firstNonEmpty(sub.Partition, defaults.Partition); partition != "" {
		directive("--partition=%s", partition)
	}
	if account := firstNonEmpty(sub.Account, defaults.Account); account != "" {
		directive("--account=%s", account)
	}

	// Resources
	if sub.Nodes > 0 {
		directive("--nodes=%d", sub.Nodes)
	}
	if sub.Ntasks > 0 {
		directive("--ntasks=%d", sub.Ntasks)
	}
	if sub.CpusPerTask > 0 {
		directive("--cpus-per-task=%d", sub.CpusPerTask)
	}
	if sub.Memory != "" {
		directive("--mem=%s", sub.Memory)
	}
	if sub.TimeLimit != "" {
		directive("--time=%s", sub.TimeLimit)
	}

	// GPU resources
	if sub.Gpus > 0 {
		directive("%s", gpuFlag(sub.GpuType, sub.Gpus, defaults.LegacyGres))
	}
	if sub.GpusPerTask > 0 {
		directive("--gpus-per-task=%d", sub.GpusPerTask)
	}

	if sub.Output != "" {
		directive("--output=%s", sub.Output)
	}
	if sub.Error != "" {
		directive("--error=%s", sub.Error)
	}
	if sub.WorkingDirectory != "" {
		directive("--chdir=%s", sub.WorkingDirectory)
	}
	if sub.Array != "" {
		directive("--array=%s", sub.Array)
	}
	if sub.Dependency != "" {
		directive("--dependency=%s", sub.Dependency)
	}

	// Pyxis container
	if sub.Container.Image != "" {
		for _, flag := range containerFlags(sub.Container, defaults.Mounts) {
			directive("%s", flag)
		}
		if sub.Container.Workdir != "" {
			directive("--container-workdir=%s", sub.Container.Workdir)
		}
	}

	fmt.Fprintln(&b)
	writeContainerEnv(&b, sub.ContainerEnv)
	b.WriteString(sub.Script)
	return b.String()
}

// writeContainerEnv exports each KEY=VALUE of a comma-separated list.
// Items without '=' are skipped.
func writeContainerEnv(w io.Writer, env string) {
	if strings.TrimSpace(env) == "" {
		return
	}
	for _, item := range strings.Split(env, ",") {
		item = strings.TrimSpace(item)
		if strings.Contains(item, "=") {
			fmt.Fprintf(w, "export %s\n", item)
		}
	}
	fmt.Fprintln(w)
}

// gpuFlag renders a per-node GPU request.
func gpuFlag(gpuType string, count int, legacy bool) string {
	switch {
	case legacy && gpuType != "":
		return fmt.Sprintf("--gres=gpu:%s:%d", gpuType, count)
	case legacy:
		return fmt.Sprintf("--gres=gpu:%d", count)
	case gpuType != "":
		return fmt.Sprintf("--gpus-per-node=%s:%d", gpuType, count)
	default:
		return fmt.Sprintf("--gpus-per-node=%d", count)
	}
}

// containerFlags renders the Pyxis image, mounts and home flags. It returns
// nil when no image is set.
func containerFlags(c ContainerSpec, defaultMounts string) []string {
	if c.Image == "" {
		return nil
	}
	flags := []string{"--container-image=" + c.Image}
	if mounts := firstNonEmpty(c.Mounts, defaultMounts); mounts != "" {
		flags = append(flags, "--container-mounts="+mounts)
	}
	if !c.MountHome {
		flags = append(flags, "--no-container-mount-home")
	}
	return flags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
