// Package utils validates values received from front ends before they reach
// process creation: session ids, paths, command lines and environment maps.
package utils
