// Package cloud plays pre-rendered per-line audio fetched over HTTP.
//
// One Adapter owns one persistent output and points it at a new line URL on
// every PlayLine call. A newer call supersedes any load still in flight.
package cloud
