// Package backend defines the common interface that both execution venues
// (the in-process numeric kernel and the remote job service) implement, the
// registry that maps venues to backends, the venue classifier, and the error
// taxonomy shared by every execution path.
package backend
