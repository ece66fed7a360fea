// SPDX-License-Identifier: GPL-3.0-or-later

package names

import "strings"

// SpecialKeys are the __key remapping left-hand sides consumed at init
// and never added to the per-name remap table.
const (
	SpecialName     = "__name"
	SpecialNS       = "__ns"
	SpecialMaster   = "__master"
	SpecialIP       = "__ip"
	SpecialHostname = "__hostname"
	SpecialLog      = "__log"
)

var specialKeys = map[string]bool{
	SpecialName:     true,
	SpecialNS:       true,
	SpecialMaster:   true,
	SpecialIP:       true,
	SpecialHostname: true,
	SpecialLog:      true,
}

// ParseRemappings splits argv into three groups:
//
//   - remap: ordinary `local:=remote` remappings
//   - special: `__key:=value` special remappings (see the Special*
//     constants); these never participate in per-name remapping
//   - rest: every other argument, in original order
//
// Arguments recognized as remappings (ordinary or special) are consumed:
// they do not appear in rest. This mirrors the init contract in spec §4.A.
func ParseRemappings(argv []string) (remap map[string]string, special map[string]string, rest []string) {
	remap = map[string]string{}
	special = map[string]string{}
	for _, arg := range argv {
		left, right, ok := splitRemap(arg)
		if !ok {
			rest = append(rest, arg)
			continue
		}
		if specialKeys[left] {
			special[left] = right
		} else {
			remap[left] = right
		}
	}
	return remap, special, rest
}

// splitRemap splits "local:=remote" into ("local", "remote", true), or
// returns ("", "", false) if arg does not contain ":=".
func splitRemap(arg string) (left, right string, ok bool) {
	idx := strings.Index(arg, ":=")
	if idx < 0 {
		return "", "", false
	}
	return arg[:idx], arg[idx+2:], true
}
