// Package paths resolves the well-known filesystem locations this
// implementation needs, the way a daemon/client split typically keeps
// one small helper for "where do my sockets/state files live" instead
// of scattering os.Getenv calls through the rest of the tree.
package paths

import "os"

// SocketDir resolves the directory that named service sockets live
// under: the override environment variable if set, otherwise
// fallback. The directory is created (mode 0755) if it does not exist.
func SocketDir(envVar, fallback string) (string, error) {
	dir := os.Getenv(envVar)
	if dir == "" {
		dir = fallback
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
