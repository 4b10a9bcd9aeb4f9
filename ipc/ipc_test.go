/*
This file contains the unit tests for the inter-drone messaging fabric:
framing, demultiplexing by sender and tag, self delivery, the bounded
receive wait, and the flush of queued frames at shutdown.
*/
package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

//builds a hive of n fabrics on localhost and joins them fully
func newHive(t *testing.T, n int, base int) []*Comb {
	t.Helper()
	combs := make([]*Comb, n)
	addrs := make([]string, n)
	for r := 0; r < n; r++ {
		combs[r] = NewComb(uint8(r), uint8(n), base)
		require.NoError(t, combs[r].Listen())
		addrs[r] = fmt.Sprintf("127.0.0.1:%d", base+r)
	}
	for r := 0; r < n; r++ {
		require.NoError(t, combs[r].Connect(addrs))
	}
	t.Cleanup(func() {
		for _, c := range combs {
			c.Close()
		}
	})
	return combs
}

func TestFrameRoundTrip(t *testing.T) {
	hive := newHive(t, 2, 7310)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, hive[0].Send(1, 7, payload))

	got, err := hive[1].Recv(0, 7)
	require.NoError(t, err)
	if !bytes.Equal(got, payload) {
		t.Errorf("[TEST] Frame payload mangled got %v expected %v", got, payload)
	}
}

func TestDemuxBySourceAndTag(t *testing.T) {
	hive := newHive(t, 3, 7320)

	//two senders, two tags each, scrambled arrival order
	require.NoError(t, hive[1].Send(0, 4, []byte("one-four")))
	require.NoError(t, hive[2].Send(0, 5, []byte("two-five")))
	require.NoError(t, hive[1].Send(0, 5, []byte("one-five")))
	require.NoError(t, hive[2].Send(0, 4, []byte("two-four")))

	//drain in an order unrelated to the sends
	cases := []struct {
		src, tag uint8
		want     string
	}{
		{2, 4, "two-four"},
		{1, 5, "one-five"},
		{2, 5, "two-five"},
		{1, 4, "one-four"},
	}
	for _, tc := range cases {
		got, err := hive[0].Recv(tc.src, tc.tag)
		require.NoError(t, err)
		if string(got) != tc.want {
			t.Errorf("[TEST] Route (%d,%d) got %q expected %q", tc.src, tc.tag, got, tc.want)
		}
	}
}

func TestSelfSend(t *testing.T) {
	c := NewComb(0, 1, 7330)
	require.NoError(t, c.Listen())
	defer c.Close()

	require.NoError(t, c.Send(0, 3, []byte("home")))
	got, err := c.Recv(0, 3)
	require.NoError(t, err)
	if string(got) != "home" {
		t.Errorf("[TEST] Self delivery got %q expected %q", got, "home")
	}
}

func TestRecvTimeout(t *testing.T) {
	c := NewComb(0, 2, 7340)
	require.NoError(t, c.Listen())
	defer c.Close()
	c.RecvWait = 150 * time.Millisecond

	start := time.Now()
	_, err := c.Recv(1, 9)
	var to *RecvTimeout
	if !errors.As(err, &to) {
		t.Fatalf("[TEST] Expected RecvTimeout got %v", err)
	}
	if to.Src != 1 || to.Tag != 9 {
		t.Errorf("[TEST] Timeout names route (%d,%d) expected (1,9)", to.Src, to.Tag)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("[TEST] Receive did not give up within the bounded wait")
	}
}

func TestBadPeer(t *testing.T) {
	c := NewComb(0, 2, 7350)

	var bad *BadPeer
	if err := c.Send(5, 1, nil); !errors.As(err, &bad) {
		t.Errorf("[TEST] Send to rank 5 in a hive of 2 not rejected, got %v", err)
	}
	if _, err := c.Recv(9, 1); !errors.As(err, &bad) {
		t.Errorf("[TEST] Recv from rank 9 in a hive of 2 not rejected, got %v", err)
	}
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	hive := newHive(t, 2, 7360)

	//a run's last frames are queued right before teardown; closing must
	//flush them to the wire, not race them
	for i := 0; i < 16; i++ {
		require.NoError(t, hive[0].Send(1, 8, []byte{byte(i)}))
	}
	hive[0].Close()

	for i := 0; i < 16; i++ {
		got, err := hive[1].Recv(0, 8)
		require.NoError(t, err)
		if len(got) != 1 || got[0] != byte(i) {
			t.Errorf("[TEST] Frame %d lost or mangled at close, got %v", i, got)
		}
	}
}
