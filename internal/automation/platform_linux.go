//go:build linux

package automation

func newPlatformAdapter(cfg Config, r Runner) (Adapter, error) {
	return NewXdotool(cfg, r), nil
}
