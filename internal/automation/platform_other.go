//go:build !darwin && !linux

package automation

func newPlatformAdapter(Config, Runner) (Adapter, error) {
	return nil, ErrUnsupportedPlatform
}
