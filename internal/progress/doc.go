// Package progress normalizes staged progress from either venue into one
// non-decreasing stream per run, and fans that stream out to live subscribers.
package progress
