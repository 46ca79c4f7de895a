package memory

import "github.com/ouro-ai-labs/ouro/pkg/models"

// BufferOptions bounds the Short-Term Buffer.
type BufferOptions struct {
	// MaxSize is the message count at which the buffer is considered full
	// and eligible for compression.
	MaxSize int

	// MinSize is the floor a compression pass must leave behind: the most
	// recent MinSize messages (respecting tool-call/result pairing) are
	// never eligible for compression.
	MinSize int
}

// DefaultBufferOptions returns the baseline buffer sizing.
func DefaultBufferOptions() BufferOptions {
	return BufferOptions{MaxSize: 40, MinSize: 10}
}

// Buffer holds the most recent messages of a session that have not yet been
// folded into a CompressedSummary. It never reorders messages and never
// splits an assistant tool-call turn from its paired tool-result turn.
type Buffer struct {
	opts     BufferOptions
	messages []*models.Message
}

// NewBuffer returns an empty buffer with the given options.
func NewBuffer(opts BufferOptions) *Buffer {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 40
	}
	if opts.MinSize <= 0 || opts.MinSize >= opts.MaxSize {
		opts.MinSize = opts.MaxSize / 4
	}
	return &Buffer{opts: opts}
}

// Append adds a message to the tail of the buffer.
func (b *Buffer) Append(msg *models.Message) {
	if msg == nil {
		return
	}
	b.messages = append(b.messages, msg)
}

// Messages returns the buffer's current contents, oldest first. The
// returned slice must not be mutated by the caller.
func (b *Buffer) Messages() []*models.Message {
	return b.messages
}

// Len returns the number of messages currently buffered.
func (b *Buffer) Len() int {
	return len(b.messages)
}

// Full reports whether the buffer has reached MaxSize and a compression
// pass should be triggered before the next add_message returns.
func (b *Buffer) Full() bool {
	return len(b.messages) >= b.opts.MaxSize
}

// Replace swaps the buffer's contents, used by the Compressor to install
// the post-compression tail (the retained recent messages).
func (b *Buffer) Replace(msgs []*models.Message) {
	b.messages = msgs
}

// SplitForCompression partitions the buffer into a candidate prefix
// (eligible for compression) and a retained suffix of at least MinSize
// messages, adjusting the split point backward so it never falls between a
// tool-call-bearing assistant message and its tool-result message.
func (b *Buffer) SplitForCompression() (candidates, retained []*models.Message) {
	n := len(b.messages)
	if n <= b.opts.MinSize {
		return nil, b.messages
	}

	splitAt := n - b.opts.MinSize
	splitAt = backOffPairBoundary(b.messages, splitAt)

	return b.messages[:splitAt], b.messages[splitAt:]
}

// backOffPairBoundary walks idx backward until it does not fall between an
// assistant turn with pending tool calls and the tool turn(s) answering it.
func backOffPairBoundary(msgs []*models.Message, idx int) int {
	for idx > 0 && idx < len(msgs) {
		prev := msgs[idx-1]
		if prev.Role == models.RoleAssistant && len(prev.ToolCalls) > 0 {
			cur := msgs[idx]
			if cur.Role == models.RoleTool {
				idx--
				continue
			}
		}
		break
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
