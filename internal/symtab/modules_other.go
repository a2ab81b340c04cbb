//go:build !linux

package symtab

// Modules returns the main executable. Shared objects are not enumerated on
// this platform.
func Modules() ([]string, error) {
	exe, err := executable()
	if err != nil {
		return nil, err
	}
	return []string{exe}, nil
}
