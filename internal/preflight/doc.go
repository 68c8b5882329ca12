// Package preflight provides readiness checks for the filesystem paths and
// the studio service cadence depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll before acquiring its lock. A failed required
//     check aborts startup; optional checks only warn.
//   - The CLI "cadence status" command prints every result.
package preflight
