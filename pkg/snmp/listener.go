// Package snmp receives UDP trap messages and feeds them into the
// ingress path, so trap-only monitoring tools go through the same
// log-then-ingest cycle as HTTP sources.
package snmp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// LogRecorder persists one ingress log row.
type LogRecorder interface {
	RecordLog(ctx context.Context, l *store.IngressLog) error
}

// Enqueuer queues a processing task.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Listener is the UDP trap listener.
type Listener struct {
	cfg     config.SNMPConfig
	catalog Catalog
	logs    LogRecorder
	queue   Enqueuer
	logger  zerolog.Logger

	tl *gosnmp.TrapListener
}

// NewListener builds a listener. The OID catalog comes from the
// configured file, merged over the built-in defaults.
func NewListener(cfg config.SNMPConfig, logs LogRecorder, q Enqueuer) (*Listener, error) {
	catalog, err := LoadCatalog(cfg.MIBCatalog)
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:     cfg,
		catalog: catalog,
		logs:    logs,
		queue:   q,
		logger:  log.WithComponent("snmp"),
	}, nil
}

// Run listens for traps until the context ends.
func (l *Listener) Run(ctx context.Context) error {
	l.tl = gosnmp.NewTrapListener()
	l.tl.Params = gosnmp.Default
	l.tl.OnNewTrap = l.handleTrap

	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	l.logger.Info().Str("addr", addr).Int("catalog_entries", len(l.catalog)).Msg("snmp listener starting")

	errCh := make(chan error, 1)
	go func() { errCh <- l.tl.Listen(addr) }()

	select {
	case <-ctx.Done():
		l.tl.Close()
		<-errCh
		l.logger.Info().Msg("snmp listener stopped")
		return nil
	case err := <-errCh:
		return fmt.Errorf("snmp listener: %w", err)
	}
}

func (l *Listener) handleTrap(packet *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	remoteIP := addr.IP.String()
	metrics.EventsReceived.WithLabelValues(string(types.MethodSNMP)).Inc()
	l.logger.Info().Str("remote_ip", remoteIP).Int("varbinds", len(packet.Variables)).Msg("new trap")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry := &store.IngressLog{
		RemoteIP: remoteIP,
		Method:   types.MethodSNMP,
		Task:     types.TaskEvent,
		Status:   types.LogStatusNew,
		Payload:  payloadFromPDUs(packet.Variables, l.catalog),
	}
	if err := l.logs.RecordLog(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("remote_ip", remoteIP).Msg("recording trap log")
		return
	}
	if err := l.queue.Enqueue(ctx, queue.Task{Name: dispatch.TaskIngestEvent, LogID: entry.ID}, 0); err != nil {
		l.logger.Error().Err(err).Int64("log_id", entry.ID).Msg("enqueueing ingest task")
	}
}

// payloadFromPDUs flattens the trap's variable bindings into the string
// map an ingress log carries, resolving names through the catalog.
func payloadFromPDUs(pdus []gosnmp.SnmpPDU, catalog Catalog) map[string]string {
	payload := make(map[string]string, len(pdus))
	for _, pdu := range pdus {
		payload[catalog.Name(pdu.Name)] = pduValue(pdu, catalog)
	}
	types.ExpandCSVFields(payload)
	return payload
}

func pduValue(pdu gosnmp.SnmpPDU, catalog Catalog) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier:
		if oid, ok := pdu.Value.(string); ok {
			return catalog.Name(oid)
		}
	case gosnmp.IPAddress:
		if ip, ok := pdu.Value.(string); ok {
			return ip
		}
	}
	return fmt.Sprintf("%v", pdu.Value)
}
