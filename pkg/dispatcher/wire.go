package dispatcher

import "worker.orly.dev/pkg/wire"

// Encode serializes a WorkerMessage into its FlatBuffer ring frame.
func Encode(msg WorkerMessage) (b []byte, err error) {
	b = wire.EncodeWorkerMessage(
		msg.SubID, int8(msg.Type), msg.Payload, msg.OKResult, msg.PublishID,
	)
	return
}

// Decode parses a ring frame into a WorkerMessage. It does not validate the
// frame and never returns an error; the distributor discards a decoded
// message with an empty sub_id unless it is a MsgProofs frame.
func Decode(b []byte) (msg WorkerMessage, err error) {
	subID, msgType, payload, okResult, publishID := wire.DecodeWorkerMessage(b)
	msg = WorkerMessage{
		SubID:     subID,
		Type:      MessageType(msgType),
		Payload:   payload,
		OKResult:  okResult,
		PublishID: publishID,
	}
	return
}
