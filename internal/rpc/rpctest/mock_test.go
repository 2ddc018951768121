package rpctest_test

import (
	"context"
	"testing"

	"github.com/pricepub/pricepub/internal/rpc/rpctest"
)

func TestMockCallQueuesResponses(t *testing.T) {
	m := rpctest.NewMock()
	m.SetResponse("get_recent_blockhash", "11111111111111111111111111111111")

	raw, err := m.Call(context.Background(), "get_recent_blockhash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"11111111111111111111111111111111"` {
		t.Fatalf("got %s", raw)
	}
	if m.CallCount("get_recent_blockhash") != 1 {
		t.Fatalf("call count = %d, want 1", m.CallCount("get_recent_blockhash"))
	}
}

func TestMockSubscribeAndNotify(t *testing.T) {
	m := rpctest.NewMock()
	id, ch, err := m.Subscribe(context.Background(), "slot_subscribe", nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Notify(id, 100)

	select {
	case raw := <-ch:
		if string(raw) != "100" {
			t.Fatalf("got %s", raw)
		}
	default:
		t.Fatal("expected buffered notification")
	}
}

func TestMockDisconnectClosesSubscriptions(t *testing.T) {
	m := rpctest.NewMock()
	_, ch, err := m.Subscribe(context.Background(), "slot_subscribe", nil)
	if err != nil {
		t.Fatal(err)
	}

	disc := m.Disconnected()
	m.Disconnect()

	select {
	case <-disc:
	default:
		t.Fatal("expected disconnected channel to close")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected subscription channel to close")
	}
	if m.ConnectionStatus() {
		t.Fatal("expected disconnected status")
	}
}
