// Package wire hand-builds the FlatBuffer frames the ring carries between
// components, using only the flatbuffers.Builder/Table primitives a schema
// compiler would otherwise generate code around. The schema compiler itself
// stays out of scope; this package is what its output would have looked
// like for the one envelope that actually crosses a byte-serialized
// boundary in this runtime, WorkerMessage.
package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// WorkerMessage vtable field indices, the slot each field is written to by
// EncodeWorkerMessage below. flatc would assign these identically from
// declaration order in a .fbs table.
const (
	wmFieldSubID     = 0
	wmFieldType      = 1
	wmFieldPayload   = 2
	wmFieldOKResult  = 3
	wmFieldPublishID = 4
)

// workerMessageTable reads back the fields EncodeWorkerMessage wrote,
// playing the role a flatc-generated accessor struct would.
type workerMessageTable struct {
	tab flatbuffers.Table
}

func (t *workerMessageTable) init(buf []byte, i flatbuffers.UOffsetT) {
	t.tab.Bytes = buf
	t.tab.Pos = i
}

func (t *workerMessageTable) subID() []byte {
	o := flatbuffers.UOffsetT(t.tab.Offset(4 + 2*wmFieldSubID))
	if o == 0 {
		return nil
	}
	return t.tab.ByteVector(o + t.tab.Pos)
}

func (t *workerMessageTable) msgType() int8 {
	o := flatbuffers.UOffsetT(t.tab.Offset(4 + 2*wmFieldType))
	if o == 0 {
		return 0
	}
	return t.tab.GetInt8(o + t.tab.Pos)
}

func (t *workerMessageTable) payload() []byte {
	o := flatbuffers.UOffsetT(t.tab.Offset(4 + 2*wmFieldPayload))
	if o == 0 {
		return nil
	}
	return t.tab.ByteVector(o + t.tab.Pos)
}

func (t *workerMessageTable) okResult() bool {
	o := flatbuffers.UOffsetT(t.tab.Offset(4 + 2*wmFieldOKResult))
	if o == 0 {
		return false
	}
	return t.tab.GetBool(o + t.tab.Pos)
}

func (t *workerMessageTable) publishID() []byte {
	o := flatbuffers.UOffsetT(t.tab.Offset(4 + 2*wmFieldPublishID))
	if o == 0 {
		return nil
	}
	return t.tab.ByteVector(o + t.tab.Pos)
}

// EncodeWorkerMessage builds a WorkerMessage FlatBuffer frame from its five
// plain fields. subID and publishID are written as byte vectors rather than
// FlatBuffers' built-in string type so decoding never has to assume UTF-8.
func EncodeWorkerMessage(subID string, msgType int8, payload []byte, okResult bool, publishID string) []byte {
	b := flatbuffers.NewBuilder(64 + len(payload))

	payloadOff := b.CreateByteVector(payload)
	publishIDOff := b.CreateByteVector([]byte(publishID))
	subIDOff := b.CreateByteVector([]byte(subID))

	b.StartObject(5)
	b.PrependBoolSlot(wmFieldOKResult, okResult, false)
	b.PrependUOffsetTSlot(wmFieldPublishID, publishIDOff, 0)
	b.PrependUOffsetTSlot(wmFieldPayload, payloadOff, 0)
	b.PrependInt8Slot(wmFieldType, msgType, 0)
	b.PrependUOffsetTSlot(wmFieldSubID, subIDOff, 0)
	root := b.EndObject()

	b.Finish(root)
	return b.FinishedBytes()
}

// DecodeWorkerMessage reads a frame EncodeWorkerMessage produced.
func DecodeWorkerMessage(buf []byte) (subID string, msgType int8, payload []byte, okResult bool, publishID string) {
	n := flatbuffers.GetUOffsetT(buf)
	t := &workerMessageTable{}
	t.init(buf, n)
	return string(t.subID()), t.msgType(), t.payload(), t.okResult(), string(t.publishID())
}
