package notifier

import (
	"context"

	logx "pollwatch/pkg/logx"
)

// logSender writes notifications to the structured log. Handy for dry runs.
type logSender struct{ log logx.Logger }

func (l logSender) Send(_ context.Context, sink Sink, msg Message) error {
	l.log.Info("notification",
		logx.String("sink", sink.Name),
		logx.String("source", msg.Source),
		logx.String("title", msg.Title),
		logx.String("text", msg.Text),
	)
	return nil
}
