//go:build !unix

package workspace

import "os"

func systemHostName() (string, error) {
	return os.Hostname()
}
