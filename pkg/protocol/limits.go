package protocol

// Size limits applied while reading client messages.
const (
	// MaxMessageSize limits a single logical message, framed or not.
	// 16MB covers large legacy variable bursts with headroom.
	MaxMessageSize = 16 << 20

	// MaxLengthDigits limits the decimal length prefix of a framed message.
	// Anything longer cannot be a valid length below MaxMessageSize.
	MaxLengthDigits = 10

	// FragmentLength is the WebSocket fragment size, header included.
	FragmentLength = 4096
)
