package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	logx "pollwatch/pkg/logx"
)

// desktopSender shows an OS notification through the platform's command-line
// tool. A missing tool turns the sink into a no-op.
type desktopSender struct {
	log logx.Logger

	once      sync.Once
	available bool
}

func newDesktopSender(log logx.Logger) *desktopSender {
	return &desktopSender{log: log}
}

func toolAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (d *desktopSender) Send(ctx context.Context, _ Sink, msg Message) error {
	name, args := desktopCommand(msg.Title, msg.Text)
	d.once.Do(func() {
		d.available = name != "" && toolAvailable(name) && hasDisplay()
		if !d.available {
			d.log.Warn("desktop notifications unavailable; sink is a no-op", logx.String("tool", name))
		}
	})
	if !d.available {
		return nil
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, logx.Truncate(string(out), 200))
	}
	return nil
}
