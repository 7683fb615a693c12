package runnable

import (
	"os"
	"sort"
	"strings"
)

// MergeEnv flattens environment layers into a single slice suitable for
// exec.Cmd.Env, applying them in precedence order (later layers win on
// key collision) and forcing FORCE_COLOR=1 last, unconditionally. This
// mirrors the env-merge precedence used for one-shot command execution,
// generalized from one definition-env map to the full
// process/defaults/definition/inherited chain the scheduler is
// responsible for assembling.
//
// Values beginning with "$" are expanded against the current process
// environment, exactly as the teacher's Cmd() does for its env map.
func MergeEnv(layers ...map[string]string) []string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			if strings.HasPrefix(v, "$") {
				v = os.ExpandEnv(v)
			}
			merged[k] = v
		}
	}
	merged["FORCE_COLOR"] = "1"

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ProcessEnv turns os.Environ() into the map shape MergeEnv expects.
func ProcessEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
