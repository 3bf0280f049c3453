package scheduler

import (
	"fmt"
	"strings"
)

// GpuModel describes a known GPU family
type GpuModel struct {
	Type     string   // Canonical type (e.g., "h100", "a100")
	MemoryGB int      // Typical memory in GB
	Aliases  []string // Alternative names for this GPU
}

// gpuDatabase is a read-only table of GPU families seen on Slurm clusters.
var gpuDatabase = map[string]GpuModel{
	"h100":  {Type: "h100", MemoryGB: 80, Aliases: []string{"h100", "hopper", "h10080gb", "h100sxm5"}},
	"a100":  {Type: "a100", MemoryGB: 40, Aliases: []string{"a100", "ampere", "a10040gb", "a10080gb"}},
	"a40":   {Type: "a40", MemoryGB: 48, Aliases: []string{"a40"}},
	"a30":   {Type: "a30", MemoryGB: 24, Aliases: []string{"a30"}},
	"a10":   {Type: "a10", MemoryGB: 24, Aliases: []string{"a10", "a10g"}},
	"a6000": {Type: "a6000", MemoryGB: 48, Aliases: []string{"a6000", "rtxa6000"}},
	"l40":   {Type: "l40", MemoryGB: 48, Aliases: []string{"l40", "l40s"}},
	"v100":  {Type: "v100", MemoryGB: 32, Aliases: []string{"v100", "volta"}},
	"p100":  {Type: "p100", MemoryGB: 16, Aliases: []string{"p100", "pascal"}},
	"t4":    {Type: "t4", MemoryGB: 16, Aliases: []string{"t4", "turing"}},
	"rtx":   {Type: "rtx", MemoryGB: 24, Aliases: []string{"rtx", "rtx8000", "rtx6000", "rtx3090", "rtx4090"}},
	"k80":   {Type: "k80", MemoryGB: 24, Aliases: []string{"k80", "kepler"}},
	"gpu":   {Type: "gpu", Aliases: []string{"gpu", "any"}},
}

// gpuFeatureKeywords are matched against node feature tags when a GRES
// entry carries no type.
var gpuFeatureKeywords = []string{"h100", "a100", "v100", "a10", "l40", "t4", "a6000", "rtx"}

// NormalizeGpuType normalizes GPU type strings to canonical form
func NormalizeGpuType(gpuType string) string {
	normalized := strings.ToLower(strings.TrimSpace(gpuType))

	// MIG profiles (e.g. "1g.10gb") are kept intact
	if IsMigProfile(normalized) || (strings.Contains(normalized, ".") && strings.Contains(normalized, "g.")) {
		return normalized
	}

	normalized = strings.TrimPrefix(normalized, "nvidia-")
	normalized = strings.TrimPrefix(normalized, "nvidia_")
	normalized = strings.TrimPrefix(normalized, "tesla-")
	normalized = strings.TrimPrefix(normalized, "tesla_")
	normalized = strings.TrimSuffix(normalized, "-sxm")
	normalized = strings.TrimSuffix(normalized, "-pcie")

	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")

	for canonical, model := range gpuDatabase {
		for _, alias := range model.Aliases {
			if normalized == alias {
				return canonical
			}
		}
	}

	return normalized
}

// GetGpuModel returns information about a specific GPU type
func GetGpuModel(gpuType string) (GpuModel, bool) {
	model, found := gpuDatabase[NormalizeGpuType(gpuType)]
	return model, found
}

// TypicalMemoryGB returns the usual memory of a GPU type, or 0 if unknown.
// MIG profiles report the slice size.
func TypicalMemoryGB(gpuType string) int {
	if IsMigProfile(gpuType) {
		return ExtractMemoryFromMigProfile(gpuType)
	}
	if model, ok := GetGpuModel(gpuType); ok {
		return model.MemoryGB
	}
	return 0
}

// IsMigProfile checks if a GPU type string is a MIG profile
// MIG profiles contain dots and underscores (e.g., nvidia_h100_80gb_hbm3_1g.10gb)
func IsMigProfile(gpuType string) bool {
	return strings.Contains(gpuType, ".") && strings.Contains(gpuType, "_")
}

// ExtractMemoryFromMigProfile extracts memory size in GB from a MIG profile name
// Examples:
//
//	nvidia_h100_80gb_hbm3_1g.10gb -> 10
//	a100_2g.10gb -> 10
func ExtractMemoryFromMigProfile(migType string) int {
	parts := strings.Split(migType, ".")
	if len(parts) < 2 {
		return 0
	}

	lastPart := strings.ToLower(parts[len(parts)-1])
	lastPart = strings.TrimSuffix(lastPart, "gb")

	memoryGB := 0
	fmt.Sscanf(lastPart, "%d", &memoryGB)
	return memoryGB
}

// gpuTypeFromFeatures returns the first feature tag naming a known GPU
// family, normalized, or "" when none does.
func gpuTypeFromFeatures(features string) string {
	fields := strings.Fields(strings.ReplaceAll(strings.ToLower(features), ",", " "))
	for _, feat := range fields {
		for _, known := range gpuFeatureKeywords {
			if strings.Contains(feat, known) {
				return NormalizeGpuType(feat)
			}
		}
	}
	return ""
}
