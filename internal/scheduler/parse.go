package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Output formats requested from the Slurm CLI. The parsers below depend on
// the field order.
const (
	PartitionFormat  = "%P|%a|%l|%D|%C|%G|%F|%f"
	NodeFormat       = "%N|%T|%c|%C|%m|%e|%P|%G|%f"
	JobFormat        = "%i|%j|%u|%T|%P|%N|%D|%C|%m|%l|%M|%L|%V|%S|%r"
	GpuSummaryFormat = "%P|%G|%D|%T|%f"
)

// invalidJobID is how scontrol reports a job it does not know.
const invalidJobID = "Invalid job id"

var (
	submitIDRe     = regexp.MustCompile(`Submitted batch job (\d+)`)
	allocationIDRe = regexp.MustCompile(`Granted job allocation (\d+)`)
)

// splitRows yields the '|' separated fields of every non-blank line that
// has at least minFields fields.
func splitRows(text string, minFields int) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(strings.TrimRight(line, "\r"), "|")
		if len(parts) < minFields {
			continue
		}
		rows = append(rows, parts)
	}
	return rows
}

// atoiOr parses a non-negative integer, returning def for anything else.
func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// splitAIOT splits an "allocated/idle/other/total" counter.
func splitAIOT(s string) (alloc, idle, total int, ok bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return 0, 0, 0, false
	}
	return atoiOr(parts[0], 0), atoiOr(parts[1], 0), atoiOr(parts[3], 0), true
}

// splitList splits a comma list dropping empty and sentinel items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" || isSentinel(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// ParseGres decodes a GRES string into GPU entries. Untyped entries such as
// "gpu:8(S:0-1)" take their type from the first node feature naming a
// known GPU family, or "gpu" when none does.
//
//	"gpu:a100:4"            -> a100 x4
//	"gpu:4"                 -> gpu x4
//	"gpu:a100:2,gpu:v100:4" -> a100 x2, v100 x4
func ParseGres(gres, features string) []GpuResource {
	gres = strings.TrimSpace(gres)
	if isSentinel(gres) {
		return nil
	}

	var gpus []GpuResource
	for _, part := range strings.Split(gres, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "gres/")
		if !strings.HasPrefix(part, "gpu") {
			continue
		}

		// Strip socket affinity such as (S:0-1)
		if idx := strings.Index(part, "("); idx >= 0 {
			part = part[:idx]
		}
		fields := strings.Split(part, ":")

		var gpuType string
		var countStr string
		switch {
		case len(fields) == 2:
			countStr = fields[1]
			gpuType = gpuTypeFromFeatures(features)
			if gpuType == "" {
				gpuType = "gpu"
			}
		case len(fields) >= 3:
			gpuType = strings.ToLower(strings.TrimSpace(fields[1]))
			countStr = fields[2]
		default:
			continue
		}

		count, err := strconv.Atoi(countStr)
		if err != nil {
			continue
		}
		gpus = append(gpus, GpuResource{
			Type:     gpuType,
			Count:    count,
			MemoryGB: TypicalMemoryGB(gpuType),
		})
	}
	return gpus
}

// ParsePartitions parses sinfo output in PartitionFormat. Rows of the same
// partition are merged.
func ParsePartitions(text string) []Partition {
	var order []string
	byName := make(map[string]*Partition)

	for _, parts := range splitRows(text, 7) {
		name := strings.TrimSuffix(parts[0], "*")
		isDefault := strings.HasSuffix(parts[0], "*")

		_, cpusIdle, cpusTotal, _ := splitAIOT(parts[4])
		_, nodesIdle, _, _ := splitAIOT(parts[6])

		features := ""
		if len(parts) > 7 {
			features = parts[7]
		}
		gpus := ParseGres(parts[5], features)
		totalGpus := 0
		var gpuTypes []string
		for _, g := range gpus {
			totalGpus += g.Count
			if g.Type != "gpu" {
				gpuTypes = appendUnique(gpuTypes, g.Type)
			}
		}

		if existing, ok := byName[name]; ok {
			existing.TotalNodes += atoiOr(parts[3], 0)
			existing.AvailableNodes += nodesIdle
			existing.TotalCpus += cpusTotal
			existing.AvailableCpus += cpusIdle
			existing.TotalGpus += totalGpus
			existing.GpuTypes = appendUnique(existing.GpuTypes, gpuTypes...)
			existing.HasGpus = existing.HasGpus || len(gpus) > 0
			existing.Default = existing.Default || isDefault
			continue
		}

		if gpuTypes == nil {
			gpuTypes = []string{}
		}
		byName[name] = &Partition{
			Name:           name,
			State:          ParsePartitionState(parts[1]),
			TotalNodes:     atoiOr(parts[3], 0),
			AvailableNodes: nodesIdle,
			TotalCpus:      cpusTotal,
			AvailableCpus:  cpusIdle,
			MaxTime:        sentinelToEmpty(parts[2]),
			Default:        isDefault,
			HasGpus:        len(gpus) > 0,
			GpuTypes:       gpuTypes,
			TotalGpus:      totalGpus,
		}
		order = append(order, name)
	}

	partitions := make([]Partition, 0, len(order))
	for _, name := range order {
		partitions = append(partitions, *byName[name])
	}
	return partitions
}

// ParseNodes parses sinfo --Node output in NodeFormat. A node listed once
// per partition is reported once with every partition it belongs to.
func ParseNodes(text string) []Node {
	var order []string
	byName := make(map[string]*Node)

	for _, parts := range splitRows(text, 9) {
		name := parts[0]
		if existing, ok := byName[name]; ok {
			existing.Partitions = appendUnique(existing.Partitions, splitList(parts[6])...)
			continue
		}

		cpusTotal := atoiOr(parts[2], 0)
		cpusAllocated, _, _, _ := splitAIOT(parts[3])
		memTotal := int64(atoiOr(parts[4], 0))
		memFree := int64(atoiOr(parts[5], 0))

		partitions := splitList(parts[6])
		if partitions == nil {
			partitions = []string{}
		}
		byName[name] = &Node{
			Name:              name,
			State:             ParseNodeState(parts[1]),
			RawState:          parts[1],
			CpusTotal:         cpusTotal,
			CpusAllocated:     cpusAllocated,
			CpusAvailable:     cpusTotal - cpusAllocated,
			MemoryTotalMB:     memTotal,
			MemoryAllocatedMB: memTotal - memFree,
			MemoryAvailableMB: memFree,
			Partitions:        partitions,
			Gpus:              ParseGres(parts[7], parts[8]),
			Features:          splitList(parts[8]),
		}
		order = append(order, name)
	}

	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		nodes = append(nodes, *byName[name])
	}
	return nodes
}

// ParseJobs parses squeue output in JobFormat. Array tasks are reported
// under their base job id.
func ParseJobs(text string) []Job {
	jobs := []Job{}
	for _, parts := range splitRows(text, 15) {
		id, err := BaseJobID(parts[0])
		if err != nil {
			continue
		}
		jobs = append(jobs, Job{
			ID:            id,
			Name:          parts[1],
			User:          parts[2],
			State:         ParseJobState(parts[3]),
			RawState:      parts[3],
			Partition:     parts[4],
			NodeList:      sentinelToEmpty(parts[5]),
			NumNodes:      atoiOr(parts[6], 1),
			NumCpus:       atoiOr(parts[7], 1),
			Memory:        sentinelToEmpty(parts[8]),
			TimeLimit:     sentinelToEmpty(parts[9]),
			TimeUsed:      sentinelToEmpty(parts[10]),
			TimeRemaining: sentinelToEmpty(parts[11]),
			SubmitTime:    parseTimestamp(parts[12]),
			StartTime:     parseTimestamp(parts[13]),
			Reason:        sentinelToEmpty(parts[14]),
		})
	}
	return jobs
}

// ParseJobDetail parses `scontrol show job` output. An unknown job gives
// (nil, nil).
func ParseJobDetail(stdout, stderr string) (*Job, error) {
	if strings.Contains(stderr, invalidJobID) || strings.TrimSpace(stdout) == "" {
		return nil, nil
	}

	info := make(map[string]string)
	for _, field := range strings.Fields(stdout) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		info[key] = value
	}

	rawID, ok := info["JobId"]
	if !ok || rawID == "" {
		return nil, NewParseError("scontrol show job", firstLine(stdout), "no JobId field")
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, NewParseError("scontrol show job", rawID, "JobId is not numeric")
	}

	job := &Job{
		ID:         id,
		Name:       info["JobName"],
		User:       info["UserId"],
		RawState:   info["JobState"],
		State:      ParseJobState(info["JobState"]),
		Partition:  info["Partition"],
		NodeList:   sentinelToEmpty(info["NodeList"]),
		NumNodes:   atoiOr(info["NumNodes"], 0),
		NumCpus:    atoiOr(info["NumCPUs"], 0),
		Memory:     sentinelToEmpty(info["MinMemoryNode"]),
		TimeLimit:  sentinelToEmpty(info["TimeLimit"]),
		TimeUsed:   sentinelToEmpty(info["RunTime"]),
		SubmitTime: parseTimestamp(info["SubmitTime"]),
		StartTime:  parseTimestamp(info["StartTime"]),
		EndTime:    parseTimestamp(info["EndTime"]),
		WorkDir:    sentinelToEmpty(info["WorkDir"]),
		StdoutPath: sentinelToEmpty(info["StdOut"]),
		StderrPath: sentinelToEmpty(info["StdErr"]),
		Reason:     sentinelToEmpty(info["Reason"]),
	}
	if user, _, found := strings.Cut(job.User, "("); found {
		job.User = user
	}
	if info["JobState"] == "" {
		job.RawState = string(JobUnknown)
	}

	// ExitCode=<code>:<signal>
	if raw := info["ExitCode"]; raw != "" {
		code, _, _ := strings.Cut(raw, ":")
		if n, err := strconv.Atoi(code); err == nil {
			job.ExitCode = &n
		}
	}

	gres := info["Gres"]
	if isSentinel(gres) {
		gres = info["TresPerNode"]
	}
	for _, g := range ParseGres(gres, "") {
		job.NumGpus += g.Count
	}

	if job.TimeLimit != "" && job.TimeUsed != "" {
		limit, errLimit := ParseTimeSpec(job.TimeLimit)
		used, errUsed := ParseTimeSpec(job.TimeUsed)
		if errLimit == nil && errUsed == nil && limit > used {
			job.TimeRemaining = FormatTimeSpec(limit - used)
		}
	}
	return job, nil
}

// ParseGpuSummary aggregates sinfo --Node rows in GpuSummaryFormat.
// Allocated rows count every GPU as busy and mixed rows count half, so
// the allocated figures are an estimate.
func ParseGpuSummary(text string) *GpuSummary {
	summary := &GpuSummary{
		ByPartition: make(map[string]*GpuStats),
		ByType:      make(map[string]*GpuStats),
	}

	for _, parts := range splitRows(text, 4) {
		partition := strings.TrimSuffix(parts[0], "*")
		nodeCount := atoiOr(parts[2], 0)
		state := strings.ToLower(parts[3])
		features := ""
		if len(parts) > 4 {
			features = parts[4]
		}

		for _, gpu := range ParseGres(parts[1], features) {
			total := gpu.Count * nodeCount
			allocated := 0
			switch {
			case strings.Contains(state, "alloc"):
				allocated = total
			case strings.Contains(state, "mix"):
				allocated = total / 2
			}
			available := total - allocated

			ps, ok := summary.ByPartition[partition]
			if !ok {
				ps = &GpuStats{Types: []string{}}
				summary.ByPartition[partition] = ps
			}
			ps.Total += total
			ps.Allocated += allocated
			ps.Available += available
			ps.Types = appendUnique(ps.Types, gpu.Type)

			ts, ok := summary.ByType[gpu.Type]
			if !ok {
				ts = &GpuStats{}
				summary.ByType[gpu.Type] = ts
			}
			ts.Total += total
			ts.Allocated += allocated
			ts.Available += available

			summary.Total += total
			summary.Allocated += allocated
			summary.Available += available
		}
	}

	for _, ps := range summary.ByPartition {
		sort.Strings(ps.Types)
	}
	return summary
}

// ParseSubmitID extracts the job id from sbatch output.
func ParseSubmitID(output string) (int, error) {
	return matchJobID("sbatch", submitIDRe, output)
}

// ParseAllocationID extracts the job id from salloc output.
func ParseAllocationID(output string) (int, error) {
	return matchJobID("salloc", allocationIDRe, output)
}

func matchJobID(command string, re *regexp.Regexp, output string) (int, error) {
	matches := re.FindStringSubmatch(output)
	if len(matches) < 2 {
		return 0, NewAllocationError(command, strings.TrimSpace(output), ErrJobIDParseFailed)
	}
	id, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, NewAllocationError(command, strings.TrimSpace(output), fmt.Errorf("%w: %v", ErrJobIDParseFailed, err))
	}
	return id, nil
}

// BaseJobID returns the numeric job id of "1234", "1234_7" or "1234.batch".
func BaseJobID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexAny(raw, "_."); idx >= 0 {
		raw = raw[:idx]
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
