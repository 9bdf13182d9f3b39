package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hersh/duotris/internal/game"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestMessageConstants(t *testing.T) {
	if MsgInput != "input" {
		t.Fatalf("MsgInput = %q, want %q", MsgInput, "input")
	}
	if MsgGarbage != "garbage" {
		t.Fatalf("MsgGarbage = %q, want %q", MsgGarbage, "garbage")
	}
	if MsgSnapshot != "snapshot" {
		t.Fatalf("MsgSnapshot = %q, want %q", MsgSnapshot, "snapshot")
	}
	if MsgTopout != "topout" {
		t.Fatalf("MsgTopout = %q, want %q", MsgTopout, "topout")
	}
	if MsgAck != "ack" {
		t.Fatalf("MsgAck = %q, want %q", MsgAck, "ack")
	}
}

func TestCodecsCarrySeqAndPayload(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		c, err := NewCodec(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		seq := uint32(7)
		b, err := c.Encode(MsgGarbage, &seq, GarbagePayload{Lines: 3})
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		f, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if f.Type != MsgGarbage || !f.HasSeq || f.Seq != 7 {
			t.Fatalf("%s: unexpected frame %+v", name, f)
		}
		p, err := DecodePayload[GarbagePayload](c, f)
		if err != nil || p.Lines != 3 {
			t.Fatalf("%s: payload %+v err %v", name, p, err)
		}
	}
}

func TestAckHasNoPayload(t *testing.T) {
	seq := uint32(1)
	b, err := JSONCodec{}.Encode(MsgAck, &seq, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got, want := string(b), `{"type":"ack","seq":1}`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestUnreliableOmitsSeq(t *testing.T) {
	b, err := JSONCodec{}.Encode(MsgInput, nil, InputPayload{Action: "left", Pressed: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(b), "seq") {
		t.Fatalf("unreliable message carries seq: %s", b)
	}
	f, err := JSONCodec{}.Decode(b)
	if err != nil || f.HasSeq {
		t.Fatalf("frame %+v err %v", f, err)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	if _, err := (JSONCodec{}).Decode([]byte(`{"type":"chat","payload":{}}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := (MsgpackCodec{}).Encode("chat", nil, nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType on encode, got %v", err)
	}
	if _, err := (JSONCodec{}).Decode([]byte(`{not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSnapshotPayloadUsesVisibleRows(t *testing.T) {
	e := game.NewEngine(game.DefaultConfig(), 3, []game.PieceType{game.PieceT})
	e.Start(t0)
	p := NewSnapshotPayload(e.Snapshot(false))
	if len(p.Matrix) != game.BoardHeight {
		t.Fatalf("expected %d rows, got %d", game.BoardHeight, len(p.Matrix))
	}
	if len(p.Next) != game.PreviewCount || p.Hold != "0" {
		t.Fatalf("unexpected hold/next %q %v", p.Hold, p.Next)
	}

	b, err := JSONCodec{}.Encode(MsgSnapshot, nil, p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `[0,"clear"]`) {
		t.Fatalf("cells not in [value, tag] form: %.80s", b)
	}

	c := p.Clone()
	c.Matrix[0][0] = game.Cell{Value: game.PieceZ, Tag: game.TagMerged}
	if p.Matrix[0][0].Value != game.PieceNone {
		t.Fatalf("clone shares rows")
	}
}

func TestRelayRoundTrip(t *testing.T) {
	b, err := EncodeRelay(EvGameAttack, AttackPayload{RoomID: "r1", Lines: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := DecodeRelay(b)
	if err != nil || m.Event != EvGameAttack {
		t.Fatalf("message %+v err %v", m, err)
	}
	p, err := DecodeRelayData[AttackPayload](m)
	if err != nil || p.Lines != 2 || p.RoomID != "r1" {
		t.Fatalf("payload %+v err %v", p, err)
	}
	if _, err := DecodeRelay([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected error for message without event")
	}
}
