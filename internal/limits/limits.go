package limits

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// DefaultCgroupRoot is the usual control group hierarchy mount point.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// Probe inspects which control group controllers are mounted on the host. It
// never fails, unreadable hierarchies report the controllers as unavailable.
func Probe(root string) model.HostCapabilities {
	return ProbeFS(os.DirFS(root))
}

// ProbeFS is like Probe using a filesystem rooted at the control group mount point.
func ProbeFS(fsys fs.FS) model.HostCapabilities {
	// cgroup v2 unified hierarchy.
	if data, err := fs.ReadFile(fsys, "cgroup.controllers"); err == nil {
		caps := model.HostCapabilities{CgroupVersion: 2}
		for _, c := range strings.Fields(string(data)) {
			switch c {
			case "memory":
				caps.Memory = true
			case "cpu":
				caps.CPU = true
			case "pids":
				caps.PIDs = true
			}
		}
		return caps
	}

	// cgroup v1, one hierarchy per controller.
	caps := model.HostCapabilities{
		Memory: isDir(fsys, "memory"),
		CPU:    isDir(fsys, "cpu") || isDir(fsys, "cpu,cpuacct"),
		PIDs:   isDir(fsys, "pids"),
	}
	if caps.Memory || caps.CPU || caps.PIDs {
		caps.CgroupVersion = 1
	}
	return caps
}

func isDir(fsys fs.FS, name string) bool {
	st, err := fs.Stat(fsys, name)
	return err == nil && st.IsDir()
}

// Check reports the controller availability as preflight results. Missing
// controllers are warnings, their limits run as advisory.
func Check(caps model.HostCapabilities) []model.CheckResult {
	if caps.CgroupVersion == 0 {
		return []model.CheckResult{{
			ID:        "cgroup_hierarchy",
			Component: "limits",
			Message:   "No control group hierarchy found, every limit is advisory",
			Status:    model.CheckStatusWarning,
		}}
	}

	results := []model.CheckResult{{
		ID:        "cgroup_hierarchy",
		Component: "limits",
		Message:   fmt.Sprintf("Control groups v%d", caps.CgroupVersion),
		Status:    model.CheckStatusOK,
	}}
	for _, kind := range model.LimitKindPrecedence {
		r := model.CheckResult{
			ID:        fmt.Sprintf("%s_controller", kind),
			Component: "limits",
			Message:   fmt.Sprintf("%s controller available", kind),
			Status:    model.CheckStatusOK,
		}
		if !caps.Has(kind) {
			r.Message = fmt.Sprintf("%s controller unavailable, the %s limit is advisory", kind, kind)
			r.Status = model.CheckStatusWarning
		}
		results = append(results, r)
	}

	return results
}

// Build resolves the requested limits against the host capabilities. The
// profile has one entry per requested kind ordered by enforcement precedence,
// kinds without controller are kept as advisory. Build never fails, with no
// controllers at all the profile is entirely advisory.
func Build(req model.RequestedLimits, caps model.HostCapabilities) model.ResourceLimitProfile {
	profile := model.ResourceLimitProfile{}
	for _, kind := range model.LimitKindPrecedence {
		value, requested := requestedValue(req, kind)
		if !requested {
			continue
		}

		entry := model.LimitEntry{Kind: kind, Value: value, Enforced: caps.Has(kind)}
		if !entry.Enforced {
			entry.Reason = fmt.Sprintf("%s controller unavailable", kind)
		}
		profile.Entries = append(profile.Entries, entry)
	}

	return profile
}

func requestedValue(req model.RequestedLimits, kind model.LimitKind) (int64, bool) {
	switch kind {
	case model.LimitKindMemory:
		return req.MemoryBytes, req.MemoryBytes > 0
	case model.LimitKindCPU:
		return int64(req.CPUs * 1e9), req.CPUs > 0
	case model.LimitKindPIDs:
		return req.PIDs, req.PIDs > 0
	}
	return 0, false
}

// ClassifyControllerError identifies the limit kind a container engine error is
// complaining about. It returns true when the error is a control group error,
// with an empty kind when the controller couldn't be identified.
func ClassifyControllerError(err error) (model.LimitKind, bool) {
	if err == nil {
		return "", false
	}

	msg := strings.ToLower(err.Error())
	noSuchFile := strings.Contains(msg, "no such file")
	switch {
	case strings.Contains(msg, "pids.max"), strings.Contains(msg, "pids limit"), noSuchFile && strings.Contains(msg, "pids"):
		return model.LimitKindPIDs, true
	case strings.Contains(msg, "memory.max"), strings.Contains(msg, "memory cgroup"), noSuchFile && strings.Contains(msg, "memory"):
		return model.LimitKindMemory, true
	case strings.Contains(msg, "cpu.max"), strings.Contains(msg, "cfs_quota"), noSuchFile && strings.Contains(msg, "cpu"):
		return model.LimitKindCPU, true
	case strings.Contains(msg, "cgroup"):
		return "", true
	}

	return "", false
}

// Fallback decides how to degrade a profile after the engine rejected it. It
// returns false when the error is not a control group error or there is nothing
// left to degrade, in that case the error must be surfaced.
func Fallback(profile model.ResourceLimitProfile, err error) (model.ResourceLimitProfile, model.LimitKind, bool) {
	kind, ok := ClassifyControllerError(err)
	if !ok {
		return profile, "", false
	}

	if kind == "" {
		kind, ok = profile.LowestPrecedenceEnforced()
		if !ok {
			return profile, "", false
		}
	}

	if !profile.Enforced(kind) {
		return profile, "", false
	}

	return profile.Degrade(kind, fmt.Sprintf("runtime fallback: %s", err)), kind, true
}
