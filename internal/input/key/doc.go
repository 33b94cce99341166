// Package key defines the neutral key-event encoding shared by the host
// translator and the engine pipeline. Host-specific key codes and modifier
// flags are translated once, at the edge, into Code/Modifier values; the
// rest of the system never sees host key types.
package key
