//go:build darwin

package automation

func newPlatformAdapter(cfg Config, r Runner) (Adapter, error) {
	return NewMacOS(cfg, r), nil
}
