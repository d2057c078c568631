package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopsim.io/internal/config"
	"coopsim.io/internal/protocol"
	"coopsim.io/internal/replication"
	"coopsim.io/internal/session"
	"coopsim.io/internal/sim/worldtest"
	"coopsim.io/internal/transport/loopback"
)

func TestParseNetworkIDs(t *testing.T) {
	ids, err := parseNetworkIDs("0x22, 35,,")
	require.NoError(t, err)
	assert.Equal(t, []protocol.NetworkID{0x22, 35}, ids)

	_, err = parseNetworkIDs("0x22,nope")
	assert.Error(t, err)
	_, err = parseNetworkID("0")
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, replication.Stats{
		Sent:    map[string]uint64{protocol.TypeCastRequest: 2},
		Dropped: map[string]uint64{protocol.TypeNotifyCast + "/unknown_entity": 1},
	}, transportStats{Received: 4})

	out := buf.String()
	assert.Contains(t, out, `coopsim_replication_sent_total{type="CAST_REQUEST"} 2`)
	assert.Contains(t, out, `coopsim_replication_dropped_total{type="NOTIFY_CAST",reason="unknown_entity"} 1`)
	assert.Contains(t, out, "coopsim_transport_received_total 4\n")
}

func TestWorldStep_ScriptReplicates(t *testing.T) {
	cfg, err := config.Load("../../configs/coopsim.yaml")
	require.NoError(t, err)

	hub := loopback.NewHub()
	conn := hub.Join("solo")
	e := worldtest.NewEngine()
	sess, err := session.New(cfg, session.Deps{Engine: e, Transport: conn, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	defer sess.Close()

	w, err := newWorld(e, sess, 0x21, []protocol.NetworkID{0x22})
	require.NoError(t, err)
	require.NotNil(t, w.fireball)
	require.NotZero(t, w.arrows)

	for i := 0; i < 30; i++ {
		w.step()
	}
	sess.Runner.Tick()

	st := sess.Service.Stats()
	assert.Equal(t, uint64(1), st.Sent[protocol.TypeCastRequest])
	assert.Equal(t, uint64(1), st.Sent[protocol.TypeInventoryChangesRequest])
	assert.Equal(t, uint64(1), st.Sent[protocol.TypeInterruptRequest])
	assert.Equal(t, uint64(3), hub.Relayed())
}
