package state_test

import "os"

func writeBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
