package realtime

import "log/slog"

// Router classifies inbound push frames and hands them to the matching
// reducer. It runs synchronously on the delivering goroutine and performs no
// I/O; malformed frames are logged and dropped so one bad message cannot
// break the channel.
type Router struct {
	onReply  func(ReplyEvent)
	onTyping func(names []string)
	logger   *slog.Logger
}

// NewRouter creates a Router dispatching to the given reducers. Either
// reducer may be nil, in which case its events are dropped.
func NewRouter(onReply func(ReplyEvent), onTyping func(names []string), logger *slog.Logger) *Router {
	return &Router{
		onReply:  onReply,
		onTyping: onTyping,
		logger:   logger,
	}
}

// Route parses one raw frame and dispatches it. It never returns an error to
// the caller.
func (r *Router) Route(frame []byte) {
	event, err := parseEvent(frame)
	if err != nil {
		r.logger.Error("failed to parse push frame", "error", err)
		return
	}

	switch event.Type {
	case eventPostReply:
		if r.onReply != nil && event.Reply != nil {
			r.onReply(*event.Reply)
		}
	case eventUsersTyping:
		if r.onTyping != nil && event.Typing != nil {
			r.onTyping(event.Typing.Names)
		}
	default:
		// Forward compatibility: unknown kinds are a no-op.
		r.logger.Debug("ignoring unrecognized push event", "type", event.Type)
	}
}
