package index

import "context"

// ChangeKind is the category of a filesystem change notification.
type ChangeKind int

const (
	// ChangeOther covers every notification the index does not act on.
	ChangeOther ChangeKind = iota
	// ChangeCreateOrModify means the paths exist and should be (re)indexed.
	ChangeCreateOrModify
	// ChangeRemoveFile means a single non-directory path was removed.
	ChangeRemoveFile
	// ChangeRemoveFolder means a directory was removed.
	ChangeRemoveFolder
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreateOrModify:
		return "create-or-modify"
	case ChangeRemoveFile:
		return "remove-file"
	case ChangeRemoveFolder:
		return "remove-folder"
	default:
		return "other"
	}
}

// Change is one notification delivered by a ChangeSource.
type Change struct {
	Kind  ChangeKind
	Paths []string
	// Detail is a free-form description of the raw event, used for logging.
	Detail string
}

// ChangeSource delivers change notifications in arrival order.
// The channel is closed when the source stops.
type ChangeSource interface {
	Changes() <-chan Change
	Close() error
}

// ChannelSource is a ChangeSource backed by a caller-owned channel.
type ChannelSource struct {
	ch chan Change
}

// NewChannelSource returns a source with a bounded queue of the given size.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{ch: make(chan Change, size)}
}

// Send enqueues c, blocking while the queue is full. It returns false if ctx
// is cancelled before the change could be enqueued.
func (s *ChannelSource) Send(ctx context.Context, c Change) bool {
	select {
	case s.ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChannelSource) Changes() <-chan Change { return s.ch }

// Close closes the queue. Send must not be called afterwards.
func (s *ChannelSource) Close() error {
	close(s.ch)
	return nil
}
