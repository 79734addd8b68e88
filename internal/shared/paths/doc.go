// Package paths resolves the working directories front ends request for new
// terminals ("~", "~/src", relative paths) into absolute paths.
package paths
