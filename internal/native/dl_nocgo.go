//go:build !cgo

package native

import "errors"

func openLibrary(_, _ string) (Library, error) {
	return nil, errors.New("dynamic loading requires cgo")
}
