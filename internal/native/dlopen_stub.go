//go:build !cgo || !(linux || darwin || freebsd)

package native

func open(path string) (Library, error) {
	return nil, ErrUnsupported
}
