// Package connectivity watches the host's network links so the capture agent
// can drain its outbox the moment a connection comes back instead of waiting
// for the next sweep. Link changes arrive over udev netlink events; the
// current state is read from the kernel's operstate files.
package connectivity
