// SPDX-License-Identifier: GPL-3.0-or-later

package directory

import "errors"

// ErrMasterUnreachable wraps any network or protocol failure talking to
// the master (spec §7's DirectoryUnreachable kind).
var ErrMasterUnreachable = errors.New("directory: master unreachable")
