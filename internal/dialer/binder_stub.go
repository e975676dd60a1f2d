//go:build !unix

package dialer

func (b Binder) setOptions(uintptr) error {
	if b.Interface != "" {
		return ErrBindUnsupported
	}
	return nil
}
